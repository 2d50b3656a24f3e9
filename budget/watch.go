package budget

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
)

// watchDebounce is how long the watcher waits for the file to settle
// before reloading. Editors often emit several events per save.
const watchDebounce = 200 * time.Millisecond

// Watcher reloads the budget table when the config file changes. Budget
// hot-reload exists only for the QM tier, where budgets stay
// runtime-adjustable; every higher tier treats budgets as fixed after
// initialization.
type Watcher struct {
	ctx  *Context
	path string
	log  *zap.Logger

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// Watch starts watching path for changes and applies adjusted limits to
// the context. Only additions of new subsystems are rejected; changed
// limits go through Context.Adjust, so a limit below current consumption
// is refused and logged rather than applied.
func Watch(ctx *Context, path string, log *zap.Logger) (*Watcher, error) {
	if ctx.Tier() != wasmguard.TierQM {
		return nil, errors.TierViolation(errors.PhaseConfig, ctx.Tier().String(), "budget hot-reload is QM-only")
	}
	if log == nil {
		log = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InvalidConfig("create watcher", err)
	}
	// Watch the directory: most editors replace the file on save, which
	// drops the watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, errors.InvalidConfig("watch config directory", err)
	}

	w := &Watcher{
		ctx:  ctx,
		path: path,
		log:  log,
		fsw:  fsw,
		done: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("budget watcher error", zap.Error(err))
		case <-timerC:
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("budget reload: read failed", zap.Error(err))
		return
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		w.log.Warn("budget reload: invalid table", zap.Error(err))
		return
	}
	if cfg.IntegrityTier() != w.ctx.Tier() {
		w.log.Warn("budget reload: tier change ignored",
			zap.Stringer("running", w.ctx.Tier()),
			zap.String("config", cfg.Tier))
		return
	}

	adjusted := 0
	for _, b := range cfg.Registry() {
		if !w.ctx.Registered(b.Subsystem) {
			w.log.Warn("budget reload: new subsystem ignored",
				zap.Stringer("subsystem", b.Subsystem))
			continue
		}
		if err := w.ctx.Adjust(b.Subsystem, b.MaxBytes); err != nil {
			w.log.Warn("budget reload: adjust refused",
				zap.Stringer("subsystem", b.Subsystem),
				zap.Error(err))
			continue
		}
		adjusted++
	}
	w.log.Info("budget table reloaded", zap.Int("adjusted", adjusted))
}
