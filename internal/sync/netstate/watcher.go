package netstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/tourly/backend/internal/logging"
)

// FileWatcher feeds a Monitor from a state file containing "online" or
// "offline". Desktop and CLI daemons use it where no OS reachability API
// is wired; anything that can write a file can flip the state.
type FileWatcher struct {
	path    string
	monitor *Monitor

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileWatcher creates a watcher for path. Start must be called before it
// updates the monitor.
func NewFileWatcher(path string, monitor *Monitor) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		path:    filepath.Clean(path),
		monitor: monitor,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// ParseState parses state file contents. Unrecognized contents report ok
// false.
func ParseState(data []byte) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online", "up", "1", "true":
		return true, true
	case "offline", "down", "0", "false":
		return false, true
	}
	return false, false
}

// Start applies the file's current state and begins watching. The parent
// directory is watched so editors that replace the file are seen.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(fw.path)
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw.apply()

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Stop stops watching. It blocks until the event goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fw.apply()
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Network state watcher error", err, map[string]interface{}{"path": fw.path})
		}
	}
}

// apply reads the file and updates the monitor. A missing or unreadable
// file leaves the state unchanged.
func (fw *FileWatcher) apply() {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Failed to read network state file", map[string]interface{}{
				"path":  fw.path,
				"error": err.Error(),
			})
		}
		return
	}

	online, ok := ParseState(data)
	if !ok {
		logging.Warn("Unrecognized network state", map[string]interface{}{
			"path":    fw.path,
			"content": strings.TrimSpace(string(data)),
		})
		return
	}
	if fw.monitor.Set(online) {
		logging.Info("Network state changed", map[string]interface{}{"online": online, "source": fw.path})
	}
}
