package rules

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 250 * time.Millisecond

// Watch reloads the engine whenever its rules file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename are seen.
func (e *Engine) Watch(ctx context.Context, debounce time.Duration) error {
	if e.path == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(e.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("rules watcher: %w", err)
	}

	var (
		timer    *time.Timer
		reloadCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			reloadCh = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[rules] watcher error: %v", err)
		case <-reloadCh:
			reloadCh = nil
			if err := e.Reload(); err != nil {
				log.Printf("[rules] reload failed, keeping previous rules: %v", err)
				continue
			}
			log.Printf("[rules] reloaded %d rules from %s", e.Len(), e.path)
		}
	}
}
