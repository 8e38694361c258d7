package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PolicyLoader reads policy pattern maps from files. A .json file holds a
// map of action pattern to PolicyConfig; a .rego file becomes a single
// Rego-backed policy whose pattern is the file name stem.
type PolicyLoader struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewPolicyLoader creates a policy loader.
func NewPolicyLoader(logger zerolog.Logger) *PolicyLoader {
	return &PolicyLoader{
		logger: logger.With().Str("component", "governance.loader").Logger(),
	}
}

// LoadFromPaths loads and merges policies from files and directories.
// Later paths win on pattern conflicts.
func (l *PolicyLoader) LoadFromPaths(paths []string) (map[string]PolicyConfig, error) {
	merged := make(map[string]PolicyConfig)
	for _, path := range paths {
		loaded, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for pattern, cfg := range loaded {
			merged[pattern] = cfg
		}
	}

	l.logger.Info().
		Int("patterns", len(merged)).
		Int("sources", len(paths)).
		Msg("policies loaded from paths")
	return merged, nil
}

func (l *PolicyLoader) loadFromPath(path string) (map[string]PolicyConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(path)
	}
	return l.loadFromFile(path)
}

func (l *PolicyLoader) loadFromDirectory(dirPath string) (map[string]PolicyConfig, error) {
	merged := make(map[string]PolicyConfig)
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".rego") && !strings.HasSuffix(path, ".json") {
			return nil
		}
		loaded, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to load policy file")
			return nil
		}
		for pattern, cfg := range loaded {
			merged[pattern] = cfg
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return merged, nil
}

func (l *PolicyLoader) loadFromFile(path string) (map[string]PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".rego"):
		pattern := strings.TrimSuffix(filepath.Base(path), ".rego")
		return map[string]PolicyConfig{
			pattern: {Rego: string(data), Description: "loaded from " + path},
		}, nil
	case strings.HasSuffix(path, ".json"):
		var configs map[string]PolicyConfig
		if err := json.Unmarshal(data, &configs); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policies: %w", err)
		}
		return configs, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
}

// Watch watches the given paths and calls reloadFn with the freshly
// loaded pattern map after changes settle. Events are debounced so a
// burst of writes triggers one reload.
func (l *PolicyLoader) Watch(ctx context.Context, paths []string, reloadFn func(map[string]PolicyConfig) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to watch path")
		}
	}

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("watching policy paths")
	return nil
}

func (l *PolicyLoader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func(map[string]PolicyConfig) error) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") && !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadFromPaths(paths)
				if err != nil {
					l.logger.Error().Err(err).Msg("failed to reload policies")
					return
				}
				if err := reloadFn(policies); err != nil {
					l.logger.Error().Err(err).Msg("failed to apply reloaded policies")
					return
				}
				l.logger.Info().Int("patterns", len(policies)).Msg("policies reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// StopWatching closes the watcher, if one is running.
func (l *PolicyLoader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
