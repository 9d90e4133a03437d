// Package approval releases checkpoint waits from the filesystem: dropping
// a file named <workOrderID>_<phaseID>.approved into the watched directory
// approves that phase. The file's first line, when present, names the
// approver.
package approval

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const approvedSuffix = ".approved"

// Watcher implements the engine's Approver on top of fsnotify. A periodic
// rescan backs up the event stream, so a missed event (or a second waiter
// draining the shared channel) delays approval instead of losing it.
type Watcher struct {
	dir          string
	watcher      *fsnotify.Watcher
	logger       *log.Logger
	scanInterval time.Duration
}

func NewWatcher(dir string, logger *log.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create approvals directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch approvals directory: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{dir: dir, watcher: fw, logger: logger, scanInterval: time.Second}, nil
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func approvalFile(workOrderID, phaseID string) string {
	return workOrderID + "_" + phaseID + approvedSuffix
}

// Wait blocks until the approval file for the phase exists or the context
// ends. A file created before Wait started counts: the directory is
// re-scanned before watching.
func (w *Watcher) Wait(ctx context.Context, workOrderID, phaseID string) (string, error) {
	want := approvalFile(workOrderID, phaseID)
	path := filepath.Join(w.dir, want)

	if by, ok := w.readApproval(path); ok {
		return by, nil
	}

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if by, ok := w.readApproval(path); ok {
				return by, nil
			}
		case event, open := <-w.watcher.Events:
			if !open {
				return "", fmt.Errorf("approval watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Base(event.Name) != want {
				continue
			}
			if by, ok := w.readApproval(path); ok {
				return by, nil
			}
		case err, open := <-w.watcher.Errors:
			if !open {
				return "", fmt.Errorf("approval watcher closed")
			}
			w.logger.Printf("approval watcher error: %v", err)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// readApproval reads the approver name from the file's first line. An empty
// or unreadable-but-present file approves anonymously.
func (w *Watcher) readApproval(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false
		}
		return "filesystem", true
	}
	line, _, _ := strings.Cut(string(data), "\n")
	by := strings.TrimSpace(line)
	if by == "" {
		by = "filesystem"
	}
	return by, true
}

// Approve writes the approval file. It exists so the CLI and tests share
// the exact naming rule with Wait.
func Approve(dir, workOrderID, phaseID, approvedBy string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create approvals directory: %w", err)
	}
	path := filepath.Join(dir, approvalFile(workOrderID, phaseID))
	if err := os.WriteFile(path, []byte(approvedBy+"\n"), 0o644); err != nil {
		return fmt.Errorf("write approval file: %w", err)
	}
	return nil
}
