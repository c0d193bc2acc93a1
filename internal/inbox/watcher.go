// Package inbox watches a drop directory and routes new documents
// through the engine's analysis pipeline, so files copied into the
// folder show up in the active conversation like manual uploads.
package inbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/counselhq/counsel/internal/analysis"
	"github.com/counselhq/counsel/internal/engine"
)

// settleDelay is how long a file must sit unchanged after its last
// write event before it is picked up, so half-copied files are not
// analyzed mid-transfer.
const settleDelay = 2 * time.Second

// Options controls inbox behavior.
type Options struct {
	Dir      string
	Watch    bool
	Patterns []string // e.g. []string{"*.pdf", "*.docx"}
	Logger   *log.Logger
	// When true in watch mode, files already present at startup are
	// marked processed without being analyzed, so restarting the
	// service does not replay the whole folder.
	SkipExisting bool
}

// fingerprint identifies one observed version of a file.
type fingerprint struct {
	size  int64
	mtime int64
}

// Watcher feeds dropped files into the engine (one-shot or watch mode).
type Watcher struct {
	eng  *engine.Engine
	opts Options

	settle time.Duration
	tick   time.Duration

	mu        sync.Mutex
	processed map[string]fingerprint
	pending   map[string]time.Time

	ingested int
	errors   int
}

// NewWatcher constructs an inbox watcher.
func NewWatcher(eng *engine.Engine, opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[inbox] ", log.LstdFlags)
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.pdf", "*.docx", "*.txt", "*.png", "*.jpg", "*.jpeg"}
	}
	return &Watcher{
		eng:       eng,
		opts:      opts,
		settle:    settleDelay,
		tick:      3 * time.Second,
		processed: make(map[string]fingerprint),
		pending:   make(map[string]time.Time),
	}
}

// Run executes the inbox per options (one-shot or watch).
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.scanOnce(ctx); err != nil {
		return err
	}

	if !w.opts.Watch {
		w.opts.Logger.Printf("Completed one-shot inbox scan: analyzed=%d errors=%d", w.ingested, w.errors)
		return nil
	}

	return w.watchLoop(ctx)
}

func (w *Watcher) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pat := range w.opts.Patterns {
		p := strings.TrimSpace(strings.ToLower(pat))
		ok, _ := filepath.Match(p, lower)
		if ok {
			return true
		}
	}
	return false
}

func (w *Watcher) scanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !w.matches(e.Name()) {
			continue
		}
		path := filepath.Join(w.opts.Dir, e.Name())

		if w.opts.Watch && w.opts.SkipExisting {
			if fp, ok := stat(path); ok {
				w.mu.Lock()
				w.processed[path] = fp
				w.mu.Unlock()
			}
			continue
		}

		w.processFile(ctx, path)
	}
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}

	w.opts.Logger.Printf("Watching inbox: %s (patterns: %s)", w.opts.Dir, strings.Join(w.opts.Patterns, ","))
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.opts.Logger.Printf("Inbox stopping: analyzed=%d errors=%d", w.ingested, w.errors)
			return ctx.Err()
		case ev := <-fw.Events:
			name := filepath.Base(ev.Name)
			if !w.matches(name) {
				continue
			}

			if (ev.Op&fsnotify.Create) != 0 || (ev.Op&fsnotify.Write) != 0 {
				w.mu.Lock()
				w.pending[ev.Name] = time.Now()
				w.mu.Unlock()
			}
			if (ev.Op&fsnotify.Remove) != 0 || (ev.Op&fsnotify.Rename) != 0 {
				w.mu.Lock()
				delete(w.pending, ev.Name)
				delete(w.processed, ev.Name)
				w.mu.Unlock()
			}
		case err := <-fw.Errors:
			if err != nil {
				w.opts.Logger.Printf("watch error: %v", err)
			}
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep processes pending files whose last write is old enough that the
// transfer has finished.
func (w *Watcher) sweep(ctx context.Context) {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.processFile(ctx, path)
	}
}

// processFile analyzes one file unless this exact version was already seen.
func (w *Watcher) processFile(ctx context.Context, path string) {
	fp, ok := stat(path)
	if !ok {
		// Removed between the event and the sweep.
		return
	}

	w.mu.Lock()
	if seen, done := w.processed[path]; done && seen == fp {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		w.opts.Logger.Printf("error reading %s: %v", path, err)
		w.fail()
		return
	}

	key := w.eng.ActiveContext()
	res, err := w.eng.AnalyzeDocument(ctx, key, analysis.Document{
		FileName: filepath.Base(path),
		Content:  data,
	})
	if err != nil {
		w.opts.Logger.Printf("error analyzing %s: %v", path, err)
		w.fail()
		return
	}

	w.mu.Lock()
	w.processed[path] = fp
	w.ingested++
	w.mu.Unlock()
	w.opts.Logger.Printf("Analyzed %s into %s (document %s)", filepath.Base(path), key, res.DocumentID)
}

func (w *Watcher) fail() {
	w.mu.Lock()
	w.errors++
	w.mu.Unlock()
}

// Stats reports how many files were analyzed and how many failed.
func (w *Watcher) Stats() (analyzed, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ingested, w.errors
}

func stat(path string) (fingerprint, bool) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return fingerprint{}, false
	}
	return fingerprint{size: st.Size(), mtime: st.ModTime().UnixNano()}, true
}
