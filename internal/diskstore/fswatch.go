package diskstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on every configured disk root and
// incrementally re-scans (or un-indexes) a disk the moment its
// directory changes, so a chunk an operator drops onto or removes from
// disk outside the normal create/write path is picked up without
// waiting for the next periodic full rescan (spec.md §6's "set of
// chunk files on each disk" persisted state, kept live between scans).
// Returns once every disk root is being watched; the watch itself runs
// in a background goroutine until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create disk watcher: %w", err)
	}
	for _, d := range s.disks {
		if err := w.Add(d.Root); err != nil {
			w.Close()
			return fmt.Errorf("watch disk root %s: %w", d.Root, err)
		}
	}
	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleWatchEvent(ctx, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("disk watcher error", "error", err)
		}
	}
}

func (s *Store) handleWatchEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		s.unindexPath(ev.Name)
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	disk := s.diskForPath(ev.Name)
	if disk == nil {
		return
	}
	if _, err := s.ScanDisk(ctx, disk); err != nil {
		s.logger.Warn("incremental disk rescan failed", "disk", disk.Root, "error", err)
	}
}

// unindexPath drops whichever index entry currently points at path, for
// a file removed or renamed away out from under the store.
func (s *Store) unindexPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.index {
		if entry.Path == path {
			delete(s.index, key)
			return
		}
	}
}

func (s *Store) diskForPath(path string) *DiskEntry {
	dir := filepath.Dir(path)
	for _, d := range s.disks {
		if d.Root == dir {
			return d
		}
	}
	return nil
}
