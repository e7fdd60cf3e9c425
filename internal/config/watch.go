package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads config.yaml on change without a restart (spec.md's
// ambient A4 requirement). It debounces bursts of filesystem events — most
// editors and volume mounts emit several writes per save — before invoking
// the callback with the freshly parsed Config.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onChange func(*Config)
	stop     chan struct{}
}

// WatchFile starts watching path's parent directory (so editors that
// replace the file via rename-into-place are still seen) and invokes
// onChange whenever path itself is written, created or renamed into place.
func WatchFile(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{path: filepath.Clean(path), fsw: fsw, onChange: onChange, stop: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var pending *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			log.WithError(err).Warn("config: reload failed, keeping previous configuration")
			return
		}
		log.Info("config: reloaded from disk")
		w.onChange(cfg)
	}
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config: watcher error")
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fsw.Close()
}
