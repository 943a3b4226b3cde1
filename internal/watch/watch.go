// Package watch reloads the rule set when files in the rules directory
// change.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/rules"
)

// DefaultDebounce is how long the directory must stay quiet before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Reloader activates the rules found at a path. *engine.Engine satisfies it.
type Reloader interface {
	ReloadPath(path string) (*rules.Set, error)
}

// Result is reported after every reload attempt.
type Result struct {
	Generation uint64
	Rules      int
	Err        error
}

// Stats counts what the watcher has done.
type Stats struct {
	Events    int       `json:"events"`
	Reloads   int       `json:"reloads"`
	Failures  int       `json:"failures"`
	LastEvent time.Time `json:"last_event"`
	LastError string    `json:"last_error,omitempty"`
}

type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	dir      string
	target   Reloader
	log      *logging.Logger
	debounce time.Duration
	onReload func(Result)

	pending bool
	lastAt  time.Time
	stats   Stats

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// Option customises a Watcher.
type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnReload registers fn to receive every reload attempt.
func OnReload(fn func(Result)) Option {
	return func(w *Watcher) { w.onReload = fn }
}

// New watches dir and reloads it through target.
func New(dir string, target Reloader, log *logging.Logger, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, errors.New("watch: rules directory required")
	}
	if target == nil {
		return nil, errors.New("watch: reloader required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		dir:      dir,
		target:   target,
		log:      logging.OrNop(log).Named("watch"),
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start begins watching. It returns an error when the directory cannot be
// watched; events are then handled in the background until Stop or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if err := w.fsw.Add(w.dir); err != nil {
		w.mu.Unlock()
		return err
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("watching rules directory", "dir", w.dir, "debounce", w.debounce)
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the watcher. Safe to call when not
// started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.fsw.Close()
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "dir", w.dir, "error", err)
		case <-tick.C:
			if w.settled() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !rules.IsRuleFile(ev.Name) {
		return
	}
	w.log.Debug("rule file changed", "file", ev.Name, "op", ev.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = true
	w.lastAt = time.Now()
	w.stats.Events++
	w.stats.LastEvent = w.lastAt
}

func (w *Watcher) settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending || time.Since(w.lastAt) < w.debounce {
		return false
	}
	w.pending = false
	return true
}

// reload keeps the previous set active when the directory does not validate.
func (w *Watcher) reload() {
	set, err := w.target.ReloadPath(w.dir)
	res := Result{Err: err}

	w.mu.Lock()
	if err != nil {
		w.stats.Failures++
		w.stats.LastError = err.Error()
	} else {
		w.stats.Reloads++
		w.stats.LastError = ""
		res.Generation = set.Generation()
		res.Rules = set.Len()
	}
	fn := w.onReload
	w.mu.Unlock()

	if err != nil {
		w.log.Warn("rules reload rejected, keeping previous set", "dir", w.dir, "error", err)
	} else {
		w.log.Info("rules reloaded from disk", "dir", w.dir, "generation", res.Generation, "rules", res.Rules)
	}
	if fn != nil {
		fn(res)
	}
}
