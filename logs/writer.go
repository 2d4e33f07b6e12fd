// Package logs rotates and retains per-line Telnet transcripts. It keeps
// the teacher's per-target-directory, timestamped-file, current.log-symlink
// layout, retargeted from IPMI SOL session names onto multiplexer line
// labels, and hands out its open files as refcounted internal/logfile.Ref
// values so a Line's transcript sink uses the same Write/Close surface as
// every other logfile binding (spec §9 ambient log rotation, grounded on
// the teacher's logs.Writer).
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tmxsim/internal/logfile"
)

type Writer struct {
	basePath      string
	retentionDays int
	refs          map[string]*logfile.Ref
	mu            sync.Mutex
}

func NewWriter(basePath string, retentionDays int) *Writer {
	return &Writer{
		basePath:      basePath,
		retentionDays: retentionDays,
		refs:          make(map[string]*logfile.Ref),
	}
}

// Open returns the current transcript ref for a line label, creating a
// fresh timestamped file (and refreshing the current.log symlink) the
// first time the label is seen. Subsequent calls for the same label share
// the same Ref until Rotate is called.
func (w *Writer) Open(lineLabel string) (*logfile.Ref, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ref, exists := w.refs[lineLabel]; exists {
		ref.Retain()
		return ref, nil
	}

	dir := filepath.Join(w.basePath, lineLabel)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(dir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	// WrapFile's count is the writer's own reference; Retain adds the
	// caller's.
	ref := logfile.WrapFile(path, f, true)
	ref.Retain()
	w.refs[lineLabel] = ref

	symlinkPath := filepath.Join(dir, "current.log")
	os.Remove(symlinkPath)
	os.Symlink(filename, symlinkPath)

	log.Infof("Created log file: %s", path)
	return ref, nil
}

// Rotate drops the writer's own reference to a line's current ref, so the
// next Open call creates a fresh file. The Line holding the Ref keeps
// writing to the old file until it too releases it.
func (w *Writer) Rotate(lineLabel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ref, exists := w.refs[lineLabel]; exists {
		ref.Close()
		delete(w.refs, lineLabel)
		log.Infof("Rotated log for %s", lineLabel)
	}
}

func (w *Writer) ListLogs(lineLabel string) ([]string, error) {
	dir := filepath.Join(w.basePath, lineLabel)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" && entry.Name() != "current.log" {
			names = append(names, entry.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (w *Writer) GetLogPath(lineLabel, filename string) string {
	return filepath.Join(w.basePath, lineLabel, filename)
}

// Cleanup removes transcript files older than the configured retention
// window. Called periodically from a background ticker in cmd/tmxsimd.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	entries, err := os.ReadDir(w.basePath)
	if err != nil {
		return
	}

	for _, lineDir := range entries {
		if !lineDir.IsDir() {
			continue
		}

		linePath := filepath.Join(w.basePath, lineDir.Name())
		logFiles, err := os.ReadDir(linePath)
		if err != nil {
			continue
		}

		for _, logFile := range logFiles {
			if logFile.IsDir() || filepath.Ext(logFile.Name()) != ".log" {
				continue
			}

			info, err := logFile.Info()
			if err != nil {
				continue
			}

			if info.ModTime().Before(cutoff) {
				path := filepath.Join(linePath, logFile.Name())
				os.Remove(path)
				log.Infof("Cleaned up old log: %s", path)
			}
		}
	}
}

// Close releases every ref the writer is holding open.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for label, ref := range w.refs {
		ref.Close()
		delete(w.refs, label)
	}
}
