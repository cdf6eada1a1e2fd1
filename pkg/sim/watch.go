package sim

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how often the watcher rescans when fsnotify is
// unavailable.
const DefaultPollInterval = 2 * time.Second

const debounceDuration = 100 * time.Millisecond

// Watcher loads scenario files dropped into a directory while the simulation
// runs. Each new or modified *.yaml file is parsed and handed to the callback.
type Watcher struct {
	dir    string
	onLoad func(path string, s *Scenario)
	logger *slog.Logger
	poll   time.Duration

	seen map[string]time.Time // path -> mod time last loaded
}

// NewWatcher watches dir and calls onLoad from the watcher goroutine.
func NewWatcher(dir string, onLoad func(path string, s *Scenario), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:    dir,
		onLoad: onLoad,
		logger: logger.With("component", "watcher", "dir", dir),
		poll:   DefaultPollInterval,
		seen:   make(map[string]time.Time),
	}
}

// SetPollInterval overrides the fallback poll interval (for testing).
func (w *Watcher) SetPollInterval(d time.Duration) { w.poll = d }

// Run loads the files already present, then watches for changes until ctx is
// done. It falls back to polling when fsnotify cannot watch the directory.
func (w *Watcher) Run(ctx context.Context) error {
	w.Scan()

	fw := w.initWatcher()
	if fw == nil {
		return w.pollLoop(ctx)
	}
	defer func() { _ = fw.Close() }()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if isScenarioFile(ev.Name) {
				resetTimer(debounce, debounceDuration)
			}
		case <-debounce.C:
			w.Scan()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error, falling back to polling", "err", err)
			return w.pollLoop(ctx)
		}
	}
}

func (w *Watcher) initWatcher() *fsnotify.Watcher {
	if _, err := os.Stat(w.dir); err != nil {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("create fsnotify watcher, falling back to polling", "err", err)
		return nil
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		w.logger.Warn("watch directory, falling back to polling", "err", err)
		return nil
	}
	return fw
}

func (w *Watcher) pollLoop(ctx context.Context) error {
	t := time.NewTicker(w.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Scan()
		}
	}
}

// Scan loads every scenario file that is new or changed since the last scan,
// in name order. It returns the number of files loaded.
func (w *Watcher) Scan() int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("read scenario dir", "err", err)
		}
		return 0
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isScenarioFile(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	slices.Sort(paths)

	loaded := 0
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if prev, ok := w.seen[p]; ok && !info.ModTime().After(prev) {
			continue
		}
		w.seen[p] = info.ModTime()

		s, err := LoadScenarioFile(p)
		if err != nil {
			w.logger.Warn("skip scenario file", "path", p, "err", err)
			continue
		}
		for _, msg := range s.Warnings {
			w.logger.Warn("skipped scenario entry", "path", p, "entry", msg)
		}
		w.onLoad(p, s)
		loaded++
	}
	return loaded
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
