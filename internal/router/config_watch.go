package router

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/graphdev/internal/hotreload"
)

// watchConfig sends the static config file's content as a ConfigChanged
// event whenever it is written.
func (h *handle) watchConfig(ctx context.Context, path string, events chan<- hotreload.Event) {
	logger := h.env.logger.With("config", path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watch error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			settle(ctx, w.Events, 50*time.Millisecond)

			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("read router config", "error", err)
				continue
			}
			logger.Info("router config changed")
			select {
			case events <- hotreload.Event{Kind: hotreload.ConfigChanged, Document: string(data)}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// settle discards events until the stream is quiet for d.
func settle(ctx context.Context, events <-chan fsnotify.Event, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(d)
		}
	}
}
