package gepconfig

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Store from its backing file whenever the file is
// written. producer.New and consumer.New copy their settings when called and
// do not read the Store, so a reload does not change max_repeat_attempts or
// retry_count in an engine that is already running.
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	onErr   func(error)
}

// WatchFile starts watching path for writes and reloads store on each one.
// onErr, if non-nil, is called with any reload error (the previous Config
// remains active on a failed reload).
func WatchFile(path string, store *Store, onErr func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, store: store, watcher: fw, onErr: onErr}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				if w.onErr != nil {
					w.onErr(err)
				} else {
					log.Printf("gepconfig: reload %s failed: %v", w.path, err)
				}
				continue
			}
			w.store.set(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onErr != nil {
				w.onErr(err)
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
