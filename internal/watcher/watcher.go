// Package watcher watches document directories with fsnotify and hands over files
// once they have stopped changing.
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

	"github.com/hyperjump/yvan/pkg/utils"
)

const (
	defaultDebounce       = 500 * time.Millisecond
	defaultStableInterval = time.Second
	defaultStableChecks   = 10
)

// Watcher watches directories and calls onFile for new or modified files once they
// are stable. Removals and renames away are ignored: the index is append-only.
type Watcher struct {
	roots          []string
	extensions     []string
	recursive      bool
	onFile         func(path string)
	debounce       time.Duration
	stableInterval time.Duration
	stableChecks   int
	watcher        *fsnotify.Watcher
	mu             sync.Mutex
	debounceMap    map[string]*time.Timer
	done           chan struct{}
	started        bool
	stopOnce       sync.Once
	logger         *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must go without events before it is checked.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithStability sets the stability check: a file is handed over once its size and
// modification time are unchanged across interval, trying at most checks times.
func WithStability(interval time.Duration, checks int) Option {
	return func(w *Watcher) {
		if interval > 0 {
			w.stableInterval = interval
		}
		if checks > 0 {
			w.stableChecks = checks
		}
	}
}

// New creates a watcher over roots. extensions filter which files are reported
// (empty = all). Missing roots are created on Start.
func New(roots []string, extensions []string, recursive bool, onFile func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		roots:          roots,
		extensions:     extensions,
		recursive:      recursive,
		onFile:         onFile,
		debounce:       defaultDebounce,
		stableInterval: defaultStableInterval,
		stableChecks:   defaultStableChecks,
		debounceMap:    make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			w.handleNewDirectory(path)
		}
		return
	}
	if w.matchExtension(path) {
		w.debounceFile(path)
	}
}

// handleNewDirectory watches a newly created directory (and its subdirectories when
// recursive) and reports the files already inside it.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	recursive := w.recursive
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil || !recursive {
		return
	}
	w.logger.Debug("watcher handling new directory", zap.String("path", dirPath))
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if w.matchExtension(path) {
			w.debounceFile(path)
		}
		return nil
	})
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	recursive := w.recursive
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if recursive && inDir(rootClean, clean) {
			return true
		}
		if !recursive && filepath.Dir(clean) == rootClean {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	extNorm := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == extNorm {
			return true
		}
	}
	return false
}

// debounceFile (re)arms the file's timer; when it fires the file is checked for stability.
func (w *Watcher) debounceFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.debounceMap[path] != t {
			// superseded by a later event
			w.mu.Unlock()
			return
		}
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if !w.waitStable(path) {
			return
		}
		w.logger.Debug("watcher reporting file", zap.String("path", path))
		if w.onFile != nil {
			w.onFile(path)
		}
	})
	w.debounceMap[path] = t
}

type fileState struct {
	size    int64
	modTime time.Time
}

func statFile(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fileState{}, false
	}
	return fileState{size: info.Size(), modTime: info.ModTime()}, true
}

// waitStable reports whether the file's size and modification time stay the same
// across one stable interval within stableChecks attempts.
func (w *Watcher) waitStable(path string) bool {
	prev, ok := statFile(path)
	if !ok {
		return false
	}
	for i := 0; i < w.stableChecks; i++ {
		select {
		case <-w.done:
			return false
		case <-time.After(w.stableInterval):
		}
		cur, ok := statFile(path)
		if !ok {
			w.logger.Debug("watched file disappeared", zap.String("path", path))
			return false
		}
		if cur.size == prev.size && cur.modTime.Equal(prev.modTime) {
			return true
		}
		prev = cur
	}
	w.logger.Warn("file still changing, skipping until its next event",
		zap.String("path", path),
		zap.Int("checks", w.stableChecks))
	return false
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Directories returns a copy of the watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles reports every matching file already present in the watched roots,
// without debouncing. Call it after Start to pick up files added while not running.
func (w *Watcher) SyncExistingFiles() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	w.logger.Debug("watcher syncing existing files", zap.Strings("roots", roots))
	for _, root := range roots {
		w.syncDirectory(root)
	}
}

func (w *Watcher) syncDirectory(root string) {
	root = filepath.Clean(root)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matchExtension(path) && w.onFile != nil {
			w.onFile(path)
		}
		return nil
	})
}

// Stop stops the watcher, cancels pending debounce timers and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
