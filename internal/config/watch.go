package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wanderport/livesync/internal/rules"
)

// RulesWatcher monitors the configured routing rules file and invokes the
// supplied callback whenever definitions change. Stop must be called to
// release filesystem resources.
type RulesWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *RulesWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchRules wires fsnotify around the rules file and reloads definitions on
// any relevant change. The callback receives the freshly parsed definitions;
// a file that no longer parses reports through onError and leaves the last
// good set in place. The initial load is delivered before WatchRules returns.
func WatchRules(ctx context.Context, path string, onChange func([]rules.Definition), onError func(error)) (*RulesWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch rules requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no rules file configured for watching")
	}

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve rules file: %w", err)
	}
	target := filepath.Clean(resolved)

	defs, err := LoadRoutingRules(target)
	if err != nil {
		return nil, err
	}
	onChange(defs)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch rules: %w", err)
	}
	// Watch the directory so editors that replace the file (rename over it)
	// still trigger a reload.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	w := &RulesWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch rules close: %w", err))
			}
		}()

		reload := func() {
			defs, err := LoadRoutingRules(target)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(defs)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		flushTimer := func() {
			if reloadTimer == nil {
				return
			}
			if !reloadTimer.Stop() {
				select {
				case <-reloadTimer.C:
				default:
				}
			}
			reloadSignal = nil
		}
		defer flushTimer()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				flushTimer()
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: rules file %s removed", target))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return w, nil
}
