package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when it changes and hands the fresh
// Config to a callback. The file's directory is watched so editors that
// replace the file by rename are seen too.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a watcher for path. Changes are coalesced over debounce.
func NewWatcher(path string, debounce time.Duration) *Watcher {
	return &Watcher{path: filepath.Clean(path), debounce: debounce}
}

// Start begins watching. Run must be called to deliver changes.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw
	return nil
}

// Run delivers reloaded configs to onChange until ctx is done. A file that
// fails to load or validate is logged and skipped; the previous config stays
// in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(Config)) {
	defer w.fsw.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			cfg, err := Load(w.path)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				log.Printf("config: reload %s: %v", w.path, err)
				continue
			}
			log.Printf("config: reloaded %s", w.path)
			onChange(cfg)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
