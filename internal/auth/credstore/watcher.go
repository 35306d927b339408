package credstore

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor/tool write bursts into one reload.
const debounceWindow = 500 * time.Millisecond

// Watch observes the credential file for out-of-band changes and invokes
// onChange after each settled write. The parent directory is watched rather
// than the file itself so write-temp-then-rename updates are seen.
// The returned stop function releases the watcher.
func (s *Store) Watch(onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go s.watchLoop(watcher, onChange, done)

	log.Printf("👀 Watching credential file: %s", s.path)
	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, onChange func(), done chan struct{}) {
	target := filepath.Clean(s.path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-done:
			return
		case <-fire:
			onChange()
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️ Credential watcher error: %v", err)
		}
	}
}
