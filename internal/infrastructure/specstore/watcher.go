package specstore

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 500 * time.Millisecond

// Watcher reloads the spec directory when files change. Configuration itself
// is never hot-reloaded; only shape sources are.
type Watcher struct {
	store  *Store
	logger *zap.Logger
}

// NewWatcher creates a directory watcher over the store's spec dir.
func NewWatcher(store *Store, logger *zap.Logger) *Watcher {
	return &Watcher{store: store, logger: logger.With(zap.String("component", "spec-watcher"))}
}

// Run watches until ctx is cancelled. A store without a directory exits
// immediately.
func (w *Watcher) Run(ctx context.Context) {
	if w.store.dir == "" {
		return
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Spec watcher unavailable", zap.Error(err))
		return
	}
	defer fw.Close()

	if err := fw.Add(w.store.dir); err != nil {
		w.logger.Warn("Spec dir not watchable", zap.String("dir", w.store.dir), zap.Error(err))
		return
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Spec watcher error", zap.Error(err))
		case <-fire:
			if err := w.store.Reload(); err != nil {
				w.logger.Warn("Spec reload failed", zap.Error(err))
			}
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	name := strings.ToLower(event.Name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".json")
}
