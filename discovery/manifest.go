// Package discovery hot-reloads the line manifest: the YAML file that maps
// multiplexer line indices onto labels, administrative enable/disable
// state, and per-line transcript paths. It replaces the teacher's
// Kubernetes BareMetalHost watch with an fsnotify watch over a local file,
// keeping the same load-cache-then-watch-then-callback shape (spec §11
// supplemented feature: hot-reloadable line manifest).
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LineSpec is one line's entry in the manifest file.
type LineSpec struct {
	Index   int    `yaml:"index"`
	Label   string `yaml:"label"`
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log"`
}

// Manifest is the full parsed manifest file.
type Manifest struct {
	Lines []LineSpec `yaml:"lines"`
}

// Watcher loads a manifest file, caches the last-known-good parse to
// survive a momentarily invalid or missing file, and calls back on every
// successful (re)load.
type Watcher struct {
	path string

	mu       sync.RWMutex
	current  Manifest
	onChange func(Manifest)

	cache *Cache
	fsw   *fsnotify.Watcher
}

// NewWatcher builds a watcher for the manifest at path, caching last-known
// state under dataDir.
func NewWatcher(path, dataDir string) *Watcher {
	return &Watcher{
		path:  path,
		cache: NewCache(dataDir),
	}
}

// OnChange registers the callback invoked after every successful load.
func (w *Watcher) OnChange(fn func(Manifest)) {
	w.onChange = fn
}

// Current returns the most recently loaded manifest.
func (w *Watcher) Current() Manifest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run loads the cache (for immediate availability), starts watching the
// manifest's directory, loads the manifest file, and then handles writes
// until ctx is cancelled. Each successful reload updates the cache and
// invokes the onChange callback.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("manifest watcher panicked: %v", r)
		}
	}()

	if cached, ok := w.cache.Load(); ok {
		w.mu.Lock()
		w.current = cached
		w.mu.Unlock()
		log.Infof("manifest: loaded %d cached line entries", len(cached.Lines))
		if w.onChange != nil {
			w.onChange(cached)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.reload()
		return err
	}
	w.fsw = fsw
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		log.Warnf("manifest: failed to watch %s: %v", dir, err)
	}

	w.reload()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("manifest: watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("manifest: read %s: %v", w.path, err)
		}
		return
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		log.Warnf("manifest: parse %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	w.current = m
	w.mu.Unlock()

	w.cache.Save(m)
	log.Infof("manifest: reloaded %d line entries from %s", len(m.Lines), w.path)
	if w.onChange != nil {
		w.onChange(m)
	}
}
