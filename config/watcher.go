package config

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// A Watcher re-reads a config file whenever it changes on disk and delivers
// each successfully parsed result. A change that fails to parse or validate
// is logged and skipped; the previous config stays in effect.
type Watcher struct {
	path    string
	logger  golog.Logger
	watcher *fsnotify.Watcher
	configs chan *Config

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

// NewWatcher begins watching the config file at path.
func NewWatcher(ctx context.Context, path string, logger golog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating file watcher")
	}
	if err := fsWatcher.Add(path); err != nil {
		goutils.UncheckedError(fsWatcher.Close())
		return nil, errors.Wrapf(err, "watching config file %q", path)
	}

	cancelCtx, cancelFunc := context.WithCancel(ctx)
	w := &Watcher{
		path:       path,
		logger:     logger,
		watcher:    fsWatcher,
		configs:    make(chan *Config, 1),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}

	w.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(w.watch, w.activeBackgroundWorkers.Done)
	return w, nil
}

// Config returns the channel new configs are delivered on. The channel is
// closed when the watcher shuts down.
func (w *Watcher) Config() <-chan *Config {
	return w.configs
}

func (w *Watcher) watch() {
	defer close(w.configs)

	for {
		select {
		case <-w.cancelCtx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Read(w.path, w.logger)
			if err != nil {
				w.logger.Errorw("changed config failed to load, keeping the old one",
					"path", w.path, "error", err)
				continue
			}
			select {
			case w.configs <- cfg:
			case <-w.cancelCtx.Done():
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorw("config watcher error", "path", w.path, "error", err)
		}
	}
}

// Close stops watching and waits for the delivery routine to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancelFunc()
		err = w.watcher.Close()
		w.activeBackgroundWorkers.Wait()
	})
	return err
}
