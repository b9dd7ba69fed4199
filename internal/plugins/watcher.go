package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads plug-in directories. Changes inside one plug-in
// are debounced per plug-in; a vanished directory removes its
// registrations. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the plug-ins root. debounce <= 0 uses the
// 150ms default.
func (l *Loader) Watch(ctx context.Context, root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("plugins: resolve root: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("plugins: watch: %w", err)
	}
	if err := watcher.Add(absRoot); err != nil {
		watcher.Close()
		cancel()
		return nil, fmt.Errorf("plugins: watch %s: %w", absRoot, err)
	}

	// Watch each existing plug-in directory so manifest writes are seen.
	if entries, err := os.ReadDir(absRoot); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				if err := watcher.Add(filepath.Join(absRoot, entry.Name())); err != nil {
					l.logger.Warn("plugin watch add failed", "plugin", entry.Name(), "error", err)
				}
			}
		}
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				l.logger.Error("plugin watcher close failed", "error", err)
			}
		}()
		l.run(watchCtx, watcher, absRoot, debounce)
	}()

	return w, nil
}

func (l *Loader) run(ctx context.Context, watcher *fsnotify.Watcher, root string, debounce time.Duration) {
	fire := make(chan string, 16)
	timers := map[string]*time.Timer{}
	var timerMu sync.Mutex

	schedule := func(plugin string) {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer, ok := timers[plugin]; ok {
			timer.Reset(debounce)
			return
		}
		timers[plugin] = time.AfterFunc(debounce, func() {
			select {
			case fire <- plugin:
			case <-ctx.Done():
			}
		})
	}
	defer func() {
		timerMu.Lock()
		for _, timer := range timers {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	inflight := map[string]bool{}
	var inflightMu sync.Mutex
	var reloads sync.WaitGroup
	defer reloads.Wait()

	reload := func(plugin string) {
		inflightMu.Lock()
		if inflight[plugin] {
			inflightMu.Unlock()
			return
		}
		inflight[plugin] = true
		inflightMu.Unlock()

		reloads.Add(1)
		go func() {
			defer reloads.Done()
			defer func() {
				inflightMu.Lock()
				delete(inflight, plugin)
				inflightMu.Unlock()
				timerMu.Lock()
				delete(timers, plugin)
				timerMu.Unlock()
			}()

			dir := filepath.Join(root, plugin)
			if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
				l.registry.RemovePlugin(plugin)
				l.logger.Info("plugin directory removed", "plugin", plugin)
				return
			}
			if err := l.LoadPlugin(dir); err != nil {
				l.logger.Error("plugin reload failed", "plugin", plugin, "error", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case plugin := <-fire:
			reload(plugin)
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			plugin := pluginForPath(root, event.Name)
			if plugin == "" {
				continue
			}
			// A new plug-in directory must itself be watched for its
			// manifest landing afterwards.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						l.logger.Warn("plugin watch add failed", "plugin", plugin, "error", err)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				schedule(plugin)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("plugin watch error", "error", err)
		}
	}
}

// pluginForPath maps an event path to the top-level plug-in directory
// name, empty when the path is outside the root.
func pluginForPath(root, name string) string {
	rel, err := filepath.Rel(root, filepath.Clean(name))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}
