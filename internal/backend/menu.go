package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"tableside/pkg/logging"
)

// menuFile is the on-disk shape of the menu document.
type menuFile struct {
	Items []MenuItem `yaml:"items"`
}

// LoadMenuFile reads and validates a YAML menu file.
func LoadMenuFile(path string) ([]MenuItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu file: %w", err)
	}

	var doc menuFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse menu file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(doc.Items))
	for i, item := range doc.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("menu item %d has no id", i)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("duplicate menu item id: %s", item.ID)
		}
		seen[item.ID] = true
		if item.Name == "" {
			return nil, fmt.Errorf("menu item %s has no name", item.ID)
		}
		if item.PriceCents < 0 {
			return nil, fmt.Errorf("menu item %s has negative price", item.ID)
		}
	}

	return doc.Items, nil
}

// debounceDelay coalesces bursts of filesystem events into one reload;
// editors typically emit several writes per save.
const debounceDelay = 200 * time.Millisecond

// MenuWatcher hot-reloads the store's menu when the menu file changes.
type MenuWatcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending *time.Timer
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMenuWatcher loads the menu file into the store and starts watching it
// for changes. Callers must call Stop when done.
func NewMenuWatcher(path string, store *Store) (*MenuWatcher, error) {
	items, err := LoadMenuFile(path)
	if err != nil {
		return nil, err
	}
	store.ReplaceMenu(items)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch menu directory: %w", err)
	}

	w := &MenuWatcher{
		path:    path,
		store:   store,
		watcher: watcher,
		stopCh:  make(chan struct{}),
	}

	go w.processEvents()

	logging.Info("Backend", "Watching %s for menu changes", path)
	return w, nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *MenuWatcher) Stop() {
	w.stopped.Do(func() {
		close(w.stopCh)
		w.watcher.Close()

		w.mu.Lock()
		if w.pending != nil {
			w.pending.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *MenuWatcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Backend", err, "Menu watcher error")
		}
	}
}

func (w *MenuWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(debounceDelay, w.reload)
}

// reload re-reads the menu file into the store. A broken file keeps the
// previous menu in place.
func (w *MenuWatcher) reload() {
	items, err := LoadMenuFile(w.path)
	if err != nil {
		logging.Error("Backend", err, "Menu reload failed, keeping previous menu")
		return
	}
	w.store.ReplaceMenu(items)
	logging.Info("Backend", "Menu reloaded: %d items", len(items))
}
