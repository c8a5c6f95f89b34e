package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/returnfeed/internal/config"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
)

// DefaultSourcesFile is used when no path is configured.
const DefaultSourcesFile = "sources.toml"

// sourcesFile is the on-disk layout:
//
//	[[sources]]
//	name = "STUDIO (Program)"
//	address = "srt://studio:9000"
type sourcesFile struct {
	Sources []frame.SourceHandle `toml:"sources"`
}

// LoadSources parses a sources file. A missing file yields no sources.
func LoadSources(path string) ([]frame.SourceHandle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var f sourcesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	seen := make(map[string]bool, len(f.Sources))
	out := make([]frame.SourceHandle, 0, len(f.Sources))
	for i, src := range f.Sources {
		src.Name = strings.TrimSpace(src.Name)
		src.Address = strings.TrimSpace(src.Address)
		if src.Address == "" {
			return nil, fmt.Errorf("source %d (%q): address is required", i, src.Name)
		}
		if src.Name == "" {
			src.Name = src.Address
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		out = append(out, src)
	}
	return out, nil
}

// SaveSources writes sources in the format LoadSources reads.
func SaveSources(path string, sources []frame.SourceHandle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create sources directory: %w", err)
	}
	data, err := toml.Marshal(sourcesFile{Sources: sources})
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// TOMLDirectory serves sources from a TOML file, reloading it when it
// changes on disk. A reload that fails to parse keeps the previous list.
type TOMLDirectory struct {
	path    string
	bus     events.Publisher
	logger  *slog.Logger
	watcher *config.Watcher[[]frame.SourceHandle]

	mu      sync.RWMutex
	sources []frame.SourceHandle
}

// NewTOMLDirectory creates a directory for path and loads it once.
func NewTOMLDirectory(path string, bus events.Publisher) (*TOMLDirectory, error) {
	if path == "" {
		path = DefaultSourcesFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	d := &TOMLDirectory{
		path:   abs,
		bus:    bus,
		logger: logging.GetLogger("discovery"),
	}
	sources, err := LoadSources(abs)
	if err != nil {
		return nil, err
	}
	d.sources = sources
	d.logger.Info("Sources loaded", "path", abs, "count", len(sources))
	return d, nil
}

// Path returns the absolute path of the sources file.
func (d *TOMLDirectory) Path() string { return d.path }

// Watch reloads the file on change until ctx is cancelled or Close is called.
func (d *TOMLDirectory) Watch(ctx context.Context, debounce time.Duration) error {
	opts := []config.WatcherOption[[]frame.SourceHandle]{}
	if debounce > 0 {
		opts = append(opts, config.WithDebounce[[]frame.SourceHandle](debounce))
	}
	w := config.NewWatcher(d.path, LoadSources, d.logger, opts...)
	w.OnReload(d.replace)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch %s: %w", d.path, err)
	}
	d.watcher = w
	return nil
}

// Close stops watching.
func (d *TOMLDirectory) Close() error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Stop()
}

// Reload rereads the file now.
func (d *TOMLDirectory) Reload() error {
	sources, err := LoadSources(d.path)
	if err != nil {
		return err
	}
	d.replace(sources)
	return nil
}

func (d *TOMLDirectory) replace(sources []frame.SourceHandle) {
	d.mu.Lock()
	d.sources = sources
	d.mu.Unlock()

	d.logger.Info("Sources reloaded", "count", len(sources))
	if d.bus != nil {
		d.bus.Publish(events.SourcesChangedEvent{
			Count:     len(sources),
			Timestamp: events.Timestamp(time.Now()),
		})
	}
}

// List returns the current sources.
func (d *TOMLDirectory) List(context.Context) ([]frame.SourceHandle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]frame.SourceHandle, len(d.sources))
	copy(out, d.sources)
	return out, nil
}

// Find returns the source with the given name.
func (d *TOMLDirectory) Find(name string) (frame.SourceHandle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return find(d.sources, name)
}
