// Package watcher provides thin filesystem-watcher integration glue: the
// watcher's own debouncing and directory-tree bookkeeping lives here, but
// everything past "a changed path arrived" delegates straight into the
// atomic file updater. This is deliberately narrower than a production
// file watcher: no pause/resume, no branch coordination, no per-language
// discovery.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/coredex/graphstore/internal/storage"
)

// defaultDebounce is the quiet period before a batch of accumulated paths
// is flushed to the updater.
const defaultDebounce = 500 * time.Millisecond

// Coordinator watches a project's root directories and drives
// AtomicFileUpdater.UpdateFileDataAtomic for every changed file, each
// inside its own Facade.Transaction so one file's syntax error never
// blocks the rest of the batch.
type Coordinator struct {
	facade    *storage.Facade
	updater   *storage.AtomicFileUpdater
	projectID string
	rootDir   string
	extMap    map[string]bool
	debounce  time.Duration

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	accumulated map[string]bool
}

// New builds a Coordinator over rootDir, watching only the given file
// extensions (e.g. []string{".go", ".py"}).
func New(facade *storage.Facade, updater *storage.AtomicFileUpdater, projectID, rootDir string, extensions []string) (*Coordinator, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	extMap := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extMap[ext] = true
	}

	c := &Coordinator{
		facade:      facade,
		updater:     updater,
		projectID:   projectID,
		rootDir:     rootDir,
		extMap:      extMap,
		debounce:    defaultDebounce,
		fsw:         fsw,
		done:        make(chan struct{}),
		accumulated: make(map[string]bool),
	}

	if err := c.addTreeRecursively(rootDir); err != nil {
		fsw.Close()
		return nil, err
	}
	return c, nil
}

// Start launches the event loop, calling onChange (if non-nil) with the
// per-file AtomicUpdateResult after each file is processed. Start returns
// immediately; the loop runs until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context, onChange func(path string, result *storage.AtomicUpdateResult, err error)) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx, onChange)
}

// Stop cancels the event loop and releases the fsnotify watcher.
func (c *Coordinator) Stop() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return c.fsw.Close()
}

func (c *Coordinator) run(ctx context.Context, onChange func(string, *storage.AtomicUpdateResult, error)) {
	defer close(c.done)

	var timer *time.Timer
	flush := make(chan struct{}, 1)
	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(c.debounce, func() {
			select {
			case flush <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-c.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := c.addTreeRecursively(event.Name); err != nil {
						log.Printf("watcher: failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}
			if !c.shouldProcess(event) {
				continue
			}
			c.mu.Lock()
			c.accumulated[event.Name] = true
			c.mu.Unlock()
			resetTimer()

		case <-flush:
			c.flush(onChange)

		case err, ok := <-c.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
		}
	}
}

func (c *Coordinator) shouldProcess(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
		return false
	}
	return c.extMap[filepath.Ext(event.Name)]
}

// flush drains the accumulated path set and applies each one's atomic
// update in its own transaction. A failure on one path is logged and
// does not prevent the rest of the batch from being processed.
func (c *Coordinator) flush(onChange func(string, *storage.AtomicUpdateResult, error)) {
	c.mu.Lock()
	paths := make([]string, 0, len(c.accumulated))
	for p := range c.accumulated {
		paths = append(paths, p)
	}
	c.accumulated = make(map[string]bool)
	c.mu.Unlock()

	if len(paths) == 0 {
		return
	}
	stats := storage.FileWatcherStats{StartedAt: time.Now()}

	for _, path := range paths {
		result, err := c.applyOne(path)
		if err != nil {
			log.Printf("watcher: update %s: %v", path, err)
		} else {
			stats.FilesChanged++
		}
		if onChange != nil {
			onChange(path, result, err)
		}
	}

	now := time.Now()
	stats.CompletedAt = &now
	if _, err := c.facade.RecordFileWatcherStats(stats); err != nil {
		log.Printf("watcher: record cycle stats: %v", err)
	}
}

func (c *Coordinator) applyOne(path string) (*storage.AtomicUpdateResult, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("watcher: read %s: %w", path, err)
	}

	if err := c.ensureFileRow(path); err != nil {
		return nil, err
	}

	var result *storage.AtomicUpdateResult
	txErr := c.facade.Transaction(func() error {
		r, err := c.updater.UpdateFileDataAtomic(path, c.projectID, c.rootDir, string(source))
		result = r
		return err
	})
	return result, txErr
}

// ensureFileRow inserts a files row for a newly seen path before the
// first atomic update, since UpdateFileDataAtomic requires the row to
// already exist. The watcher is the one collaborator that discovers
// brand-new files rather than always updating existing ones.
func (c *Coordinator) ensureFileRow(path string) error {
	if _, err := c.facade.GetFileByPath(c.projectID, path); err == nil {
		return nil
	}

	rel, err := filepath.Rel(c.rootDir, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	dataset, err := c.facade.GetDatasetByRootPath(c.projectID, c.rootDir)
	if err != nil {
		return fmt.Errorf("watcher: resolve dataset for %s: %w", c.rootDir, err)
	}

	_, err = c.facade.AddFile(storage.File{
		ProjectID: c.projectID, DatasetID: dataset.ID, Path: path, RelativePath: rel,
	})
	return err
}

func (c *Coordinator) addTreeRecursively(root string) error {
	dirName := filepath.Base(root)
	if dirName == ".git" || dirName == "node_modules" {
		return nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("watcher: read dir %s: %w", root, err)
	}
	if err := c.fsw.Add(root); err != nil {
		return fmt.Errorf("watcher: add %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.Name() == "node_modules" {
			continue
		}
		if err := c.addTreeRecursively(filepath.Join(root, entry.Name())); err != nil {
			log.Printf("watcher: %v", err)
		}
	}
	return nil
}
