package lspclient

import (
	"encoding/json"
	"os"
)

func skipWhitespace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}

func unmarshalInto(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
