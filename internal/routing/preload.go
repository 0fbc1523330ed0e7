package routing

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// defaultIgnores mirrors the common-ignore-list requirement of §4.6: a
// project's own .gitignore is honored in addition to these built-ins.
var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/target/**",
}

// ignoreSet combines the built-in patterns with any .gitignore the project
// root provides.
type ignoreSet struct {
	patterns []string
}

func loadIgnores(root string) *ignoreSet {
	patterns := append([]string(nil), defaultIgnores...)
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			line = strings.TrimSuffix(strings.TrimPrefix(line, "/"), "/")
			patterns = append(patterns, "**/"+line, "**/"+line+"/**")
		}
	}
	return &ignoreSet{patterns: patterns}
}

func (s *ignoreSet) matches(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// DistinctExtensions walks root (bounded by the ignore set, not by a hard
// depth cap) and returns the set of file extensions present, each without
// its leading dot.
func DistinctExtensions(root string) (map[string]bool, error) {
	ignores := loadIgnores(root)
	found := make(map[string]bool)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if ignores.matches(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if ext != "" {
			found[ext] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Preload resolves, for every distinct extension under root, the matching
// server config (deduplicated by Key), and invokes start for each. When
// dryRunOnly is true, start is never called; Preload just reports which
// configs would be started via the returned slice.
func Preload(cfg *Config, root string, dryRunOnly bool, start func(ctx context.Context, sc ServerConfig) error) ([]ServerConfig, error) {
	exts, err := DistinctExtensions(root)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var matched []ServerConfig
	for ext := range exts {
		for i := range cfg.Servers {
			s := cfg.Servers[i]
			for _, e := range s.Extensions {
				if e != ext {
					continue
				}
				key := s.Key()
				if seen[key] {
					break
				}
				seen[key] = true
				matched = append(matched, s)
				break
			}
		}
	}

	if dryRunOnly {
		return matched, nil
	}

	for _, sc := range matched {
		if err := start(context.Background(), sc); err != nil {
			log.Printf("[routing] preload: starting %v failed: %v", sc.Command, err)
		}
	}
	return matched, nil
}

// Watcher watches root for newly created files after the initial preload
// so that a peer already running for an extension also picks up files
// added later in the session, rather than requiring a restart.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	ignores   *ignoreSet
	onCreate  func(path string)
}

// NewWatcher starts watching root (recursively) for file creation events.
// Directories matching the ignore set when NewWatcher runs are not
// watched. onCreate is invoked with the path of each file created in a
// watched directory, joined onto root as given (relative if root is
// relative). Directories created later are watched without consulting the
// ignore set, and files created in them are reported.
func NewWatcher(root string, onCreate func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ignores := loadIgnores(root)

	w := &Watcher{fsWatcher: fw, ignores: ignores, onCreate: onCreate}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if rel != "." && w.ignores.matches(rel) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
	if err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is done. Intended to run in its own
// goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsWatcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				_ = w.fsWatcher.Add(ev.Name)
				continue
			}
			if w.onCreate != nil {
				w.onCreate(ev.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[routing] watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}
