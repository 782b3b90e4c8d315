// file: internal/watcher/watcher.go
// version: 4.0.0
// guid: 4f8c2a61-7d3e-4b95-a0c6-1e9b5d7f2a38

// Package watcher turns filesystem activity under a local folder provider's
// root into sync passes for that provider. The pass itself works out what
// changed; the watcher only decides when one is worth starting.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jdfalk/ebook-organizer/internal/metadata"
	"github.com/jdfalk/ebook-organizer/internal/provider"
)

// DefaultDebounce is the default debounce period.
const DefaultDebounce = 5 * time.Second

// Trigger requests a pass of providerID. changed holds the root-relative
// paths seen since the last accepted request, sorted. It returns false
// when a pass is already in flight; the watcher then keeps the changes and
// asks again after another debounce period, since the running pass may
// have listed the folder before they happened.
type Trigger func(providerID string, changed []string) (bool, error)

// FolderWatcher watches the tree of one local folder provider.
type FolderWatcher struct {
	providerID string
	root       string
	debounce   time.Duration
	trigger    Trigger

	fsWatcher *fsnotify.Watcher
	stop      chan struct{}
	stopped   chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	dirs    map[string]bool
	pending map[string]bool
}

// New creates a watcher for providerID rooted at root. Pass 0 for debounce
// to use DefaultDebounce.
func New(providerID, root string, trigger Trigger, debounce time.Duration) *FolderWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FolderWatcher{
		providerID: providerID,
		root:       filepath.Clean(root),
		debounce:   debounce,
		trigger:    trigger,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		dirs:       make(map[string]bool),
		pending:    make(map[string]bool),
	}
}

// ProviderID returns the provider whose passes this watcher requests.
func (w *FolderWatcher) ProviderID() string { return w.providerID }

// Root returns the watched directory.
func (w *FolderWatcher) Root() string { return w.root }

// Start begins watching the root recursively. Calling it again is a no-op.
func (w *FolderWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsw
	if _, err := w.watchTree(w.root); err != nil {
		fsw.Close()
		return err
	}

	go w.eventLoop()
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
// Changes not yet handed to a pass are dropped; the next pass lists the
// folder anyway.
func (w *FolderWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

// Pending returns the changed paths not yet handed to a pass, sorted.
func (w *FolderWatcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingLocked()
}

func (w *FolderWatcher) pendingLocked() []string {
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// watchTree adds dir and its subdirectories and returns the ebook files
// already inside, as root-relative paths.
func (w *FolderWatcher) watchTree(dir string) ([]string, error) {
	var books []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		rel, ok := w.relative(path)
		if !ok {
			if d.IsDir() && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if IsEbookFile(path) {
				books = append(books, rel)
			}
			return nil
		}
		if watchErr := w.fsWatcher.Add(path); watchErr != nil {
			log.Printf("[WARN] watcher %s: cannot watch %s: %v", w.providerID, path, watchErr)
			return nil
		}
		w.mu.Lock()
		w.dirs[path] = true
		w.mu.Unlock()
		return nil
	})
	return books, err
}

// relative maps path to the form the local provider uses for remote ids.
// Paths the provider skips (hidden entries, anything outside the root)
// report false.
func (w *FolderWatcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", path == w.root
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	return rel, true
}

func (w *FolderWatcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[ERROR] watcher %s: %v", w.providerID, err)
		}
	}
}

func (w *FolderWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	rel, ok := w.relative(event.Name)
	if !ok || rel == "" {
		return
	}

	var changed []string
	switch {
	case event.Has(fsnotify.Create) && isDir(event.Name):
		// A folder moved in brings its ebooks with it; they produce no
		// events of their own.
		books, err := w.watchTree(event.Name)
		if err != nil {
			log.Printf("[WARN] watcher %s: cannot watch %s: %v", w.providerID, event.Name, err)
		}
		changed = books
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if w.forgetDir(event.Name) {
			// The ebooks below left with the folder.
			changed = []string{rel + "/"}
		} else if IsEbookFile(event.Name) {
			changed = []string{rel}
		}
	case IsEbookFile(event.Name):
		changed = []string{rel}
	}
	if len(changed) > 0 {
		w.schedule(changed...)
	}
}

// forgetDir drops dir and everything below it from the watched set and
// reports whether dir was a watched directory.
func (w *FolderWatcher) forgetDir(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	return true
}

func (w *FolderWatcher) schedule(changed ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	for _, p := range changed {
		w.pending[p] = true
	}
	w.armLocked()
}

func (w *FolderWatcher) armLocked() {
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *FolderWatcher) fire() {
	w.mu.Lock()
	w.timer = nil
	if !w.running || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changed := w.pendingLocked()
	w.mu.Unlock()

	started, err := w.trigger(w.providerID, changed)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case err != nil:
		// Paused or disabled providers list the whole folder when they
		// run again.
		log.Printf("[WARN] watcher %s: %d changes could not start a pass: %v", w.providerID, len(changed), err)
	case !started:
		log.Printf("[DEBUG] watcher %s: pass in flight, retrying in %s", w.providerID, w.debounce)
		if w.running {
			w.armLocked()
		}
		return
	default:
		log.Printf("[INFO] watcher %s: %d changes under %s started a pass", w.providerID, len(changed), w.root)
	}
	for _, p := range changed {
		delete(w.pending, p)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsEbookFile reports whether name has an extension the providers sync.
// Hidden files are ignored.
func IsEbookFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return provider.IsEbookFormat(metadata.FormatOf("", base, ""))
}
