// Package watcher keeps knowledge collections and the crisis lexicon in step with their files,
// using fsnotify with per-path debouncing.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/models"
)

const defaultDebounce = 400 * time.Millisecond

// ChangeFunc handles a created or modified corpus file of domain.
type ChangeFunc func(ctx context.Context, domain models.Domain, path string)

// RemoveFunc handles a deleted or renamed-away corpus file of domain.
type RemoveFunc func(ctx context.Context, domain models.Domain, path string)

// Watcher watches one corpus directory per domain (recursively) plus individual files.
type Watcher struct {
	extensions []string
	onChange   ChangeFunc
	onRemove   RemoveFunc
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	ctx       context.Context
	roots     map[string]models.Domain
	rootPaths map[string][]string // root -> watched subdirectories
	files     map[string]func()   // single watched file -> reload callback
	fileDirs  map[string]int      // parent dirs added for single files
	timers    map[string]*time.Timer
	started   bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithExtensions limits corpus events to files with these extensions. Empty accepts all.
func WithExtensions(exts []string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// WithDebounce sets how long a path must stay quiet before its callback runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher. onChange and onRemove may be nil when only files are watched.
func New(onChange ChangeFunc, onRemove RemoveFunc, opts ...Option) *Watcher {
	w := &Watcher{
		onChange:  onChange,
		onRemove:  onRemove,
		debounce:  defaultDebounce,
		ctx:       context.Background(),
		roots:     make(map[string]models.Domain),
		rootPaths: make(map[string][]string),
		files:     make(map[string]func()),
		fileDirs:  make(map[string]int),
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// AddCorpus registers dir as the corpus of domain. A missing directory is created. When the
// watcher is running the directory is watched immediately.
func (w *Watcher) AddCorpus(domain models.Domain, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roots[abs]; ok {
		return nil
	}
	if w.fsw != nil {
		if err := w.addRootLocked(abs); err != nil {
			return err
		}
	}
	w.roots[abs] = domain
	if w.logger != nil {
		w.logger.Debug("watcher corpus added", zap.String("domain", string(domain)), zap.String("path", abs))
	}
	return nil
}

// RemoveCorpus stops watching dir. Already ingested documents stay in their collection.
func (w *Watcher) RemoveCorpus(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.roots[abs]; !ok {
		return nil
	}
	if w.fsw != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.fsw.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	delete(w.roots, abs)
	return nil
}

// WatchFile calls onChange whenever path is written or replaced. The parent directory is watched
// so editors that save by rename are seen too.
func (w *Watcher) WatchFile(path string, onChange func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok && w.fsw != nil {
		if err := w.addFileDirLocked(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	w.files[abs] = onChange
	return nil
}

// Corpora returns the watched corpus directories and their domains.
func (w *Watcher) Corpora() map[string]models.Domain {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]models.Domain, len(w.roots))
	for k, v := range w.roots {
		out[k] = v
	}
	return out
}

// Start begins watching. It runs until ctx is cancelled or Stop is called; callbacks receive ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	for file := range w.files {
		if err := w.addFileDirLocked(filepath.Dir(file)); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.started = true
	w.wg.Add(1)
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}

	w.mu.Lock()
	reload, isFile := w.files[path]
	w.mu.Unlock()
	if isFile {
		if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
			w.debounced(path, reload)
		}
		return
	}

	domain, ok := w.domainOf(path)
	if !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(domain, path)
			return
		}
		if matchExtension(path, w.extensions) && w.onChange != nil {
			w.debounced(path, func() { w.onChange(w.context(), domain, path) })
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		if matchExtension(path, w.extensions) && w.onRemove != nil {
			w.onRemove(w.context(), domain, path)
		}
	}
}

// handleNewDirectory watches a directory created (or moved) under a corpus root and ingests
// the files already inside it.
func (w *Watcher) handleNewDirectory(domain models.Domain, dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil && w.logger != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	w.syncDirectory(domain, dir)
}

func (w *Watcher) domainOf(path string) (models.Domain, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for root, domain := range w.roots {
		if inDir(root, path) {
			return domain, true
		}
	}
	return "", false
}

func (w *Watcher) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounced(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		fn()
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *Watcher) addFileDirLocked(dir string) error {
	if w.fileDirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.fileDirs[dir]++
	return nil
}

func (w *Watcher) syncDirectory(domain models.Domain, root string) {
	if w.onChange == nil {
		return
	}
	ctx := w.context()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if matchExtension(path, w.extensions) {
			w.onChange(ctx, domain, path)
		}
		return nil
	})
}

// Sync passes every existing corpus file to onChange. Call it after Start to catch up with
// changes made while the process was down.
func (w *Watcher) Sync() {
	for root, domain := range w.Corpora() {
		if w.logger != nil {
			w.logger.Debug("watcher syncing corpus", zap.String("domain", string(domain)), zap.String("root", root))
		}
		w.syncDirectory(domain, root)
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.fileDirs = make(map[string]int)
	w.stopOnce.Do(func() { close(w.done) })
}

// Stop stops the watcher, waits for the event loop to exit and releases resources.
func (w *Watcher) Stop() {
	w.shutdown()
	w.wg.Wait()
}
