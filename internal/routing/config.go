// Package routing loads the LSP server configuration file and selects the
// right configured server for a given file path.
package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ServerConfig is one entry of the "servers" list in the configuration
// file.
type ServerConfig struct {
	Extensions            []string        `json:"extensions"`
	Command               []string        `json:"command"`
	RootDir               string          `json:"rootDir,omitempty"`
	RestartInterval        float64         `json:"restartInterval,omitempty"`
	InitializationOptions json.RawMessage `json:"initializationOptions,omitempty"`
}

// Config is the top-level configuration file shape.
type Config struct {
	Servers []ServerConfig `json:"servers"`
}

// Key returns a stable identity for a server config, used by the server
// manager as the single-flight/live-peer map key. Two configs with the
// same command, rootDir and extensions produce the same key even if field
// order in the source JSON differed.
func (c ServerConfig) Key() string {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(c.Command, "\x1f"))
	buf.WriteByte(0)
	buf.WriteString(c.RootDir)
	buf.WriteByte(0)
	exts := append([]string(nil), c.Extensions...)
	buf.WriteString(strings.Join(exts, "\x1f"))
	return buf.String()
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["servers"],
  "properties": {
    "servers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["extensions", "command"],
        "properties": {
          "extensions": {"type": "array", "items": {"type": "string"}, "minItems": 1},
          "command": {"type": "array", "items": {"type": "string"}, "minItems": 1},
          "rootDir": {"type": "string"},
          "restartInterval": {"type": "number", "minimum": 0},
          "initializationOptions": {}
        }
      }
    }
  }
}`

var configSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("lspbridge://config.schema.json", mustUnmarshalSchema(configSchemaJSON)); err != nil {
		panic(fmt.Sprintf("routing: invalid embedded config schema: %v", err))
	}
	schema, err := c.Compile("lspbridge://config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("routing: compiling embedded config schema: %v", err))
	}
	return schema
}()

func mustUnmarshalSchema(src string) any {
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		panic(err)
	}
	return v
}

// ConfigPathEnv is the environment variable consulted before the path
// argument given to Load, per §4.6.
const ConfigPathEnv = "CCLSP_CONFIG_PATH"

// Load reads and validates a configuration file. If CCLSP_CONFIG_PATH is
// set in the environment, it takes precedence over path. Both routes fail
// loudly (a non-nil error) when the file is missing, isn't valid JSON, or
// fails schema validation.
func Load(path string) (*Config, error) {
	resolved := path
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		resolved = envPath
	}
	if resolved == "" {
		return nil, fmt.Errorf("routing: no configuration path provided and %s is unset", ConfigPathEnv)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("routing: reading config %q: %w", resolved, err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("routing: config %q is not valid JSON: %w", resolved, err)
	}
	if err := configSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("routing: config %q failed validation: %w", resolved, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("routing: decoding config %q: %w", resolved, err)
	}

	for i := range cfg.Servers {
		normalizeExtensions(cfg.Servers[i].Extensions)
		if cfg.Servers[i].RootDir == "" {
			cfg.Servers[i].RootDir = filepath.Dir(resolved)
		}
	}

	return &cfg, nil
}

// normalizeExtensions lowercases each extension and strips a leading dot
// in place, so lookups by filepath.Ext (which includes the dot) and
// lookups by a bare extension both work against the same table.
func normalizeExtensions(exts []string) {
	for i, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(e, "."))
		exts[i] = e
	}
}

// SelectServer picks the best configured server for an absolute file
// path: among every server whose Extensions contains the path's
// extension, the one whose RootDir is the deepest prefix of path wins;
// ties (including "no RootDir matches") fall back to first list order, and
// paths matching no extension return (nil, false).
func SelectServer(cfg *Config, absPath string) (*ServerConfig, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	if ext == "" {
		return nil, false
	}

	var candidates []*ServerConfig
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		for _, e := range s.Extensions {
			if e == ext {
				candidates = append(candidates, s)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	best := candidates[0]
	bestDepth := -1
	for _, c := range candidates {
		root := c.RootDir
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		depth := strings.Count(filepath.ToSlash(absRoot), "/")
		if depth > bestDepth {
			bestDepth = depth
			best = c
		}
	}
	return best, true
}
