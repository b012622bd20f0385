package runctl

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/epics-modules/sdds-core/pkg/log"
)

// FileWatcher watches a request file's path and its resolved symlink
// target for modification, implementing the watch-input termination
// policy (§4.6).
type FileWatcher struct {
	watcher *fsnotify.Watcher
	changed chan struct{}
}

// NewFileWatcher starts watching path (and, if path is a symlink, the
// directory holding its resolved target so a replaced symlink is also
// caught).
func NewFileWatcher(path string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("runctl: creating file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("runctl: watching %s: %w", dir, err)
	}
	if target, err := filepath.EvalSymlinks(path); err == nil && filepath.Dir(target) != dir {
		if err := w.Add(filepath.Dir(target)); err != nil {
			log.Warnf("runctl: watching symlink target of %s: %v", path, err)
		}
	}

	fw := &FileWatcher{watcher: w, changed: make(chan struct{}, 1)}
	names := map[string]bool{filepath.Base(path): true}
	if target, err := filepath.EvalSymlinks(path); err == nil {
		names[filepath.Base(target)] = true
	}
	go fw.run(names)
	return fw, nil
}

func (fw *FileWatcher) run(names map[string]bool) {
	for event := range fw.watcher.Events {
		if !names[filepath.Base(event.Name)] {
			continue
		}
		if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
			continue
		}
		select {
		case fw.changed <- struct{}{}:
		default:
		}
	}
}

// Changed satisfies Watcher.
func (fw *FileWatcher) Changed() <-chan struct{} { return fw.changed }

// Close stops watching.
func (fw *FileWatcher) Close() error { return fw.watcher.Close() }
