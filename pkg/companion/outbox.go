package companion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/nailguard/internal/types"
)

// Outbox is the durable queue of events accepted locally but not yet
// confirmed by the authoritative side. Every mutation is persisted before
// it returns and is all-or-nothing.
type Outbox interface {
	Enqueue(ev types.Event) error
	Snapshot() ([]types.Event, error)
	ClearPrefix(n int) error
	Clear() error
	IsEmpty() (bool, error)
	Len() (int, error)
	Close() error
}

// Outbox backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenOutbox opens the outbox for the named backend at path.
func OpenOutbox(backend, path string) (Outbox, error) {
	switch backend {
	case BackendFile, "":
		return NewFileOutbox(path)
	case BackendSQLite:
		return NewSQLiteOutbox(path)
	default:
		return nil, fmt.Errorf("unknown outbox backend %q", backend)
	}
}

// outboxFile is the on-disk layout of a FileOutbox.
type outboxFile struct {
	Version int           `json:"version"`
	Events  []types.Event `json:"events"`
}

const outboxFileVersion = 1

// FileOutbox keeps the outbox as a single JSON blob. Writes go to a temp
// file that is synced and renamed over the blob, so a crash leaves either
// the old or the new contents.
type FileOutbox struct {
	mu     sync.Mutex
	path   string
	events []types.Event
}

// NewFileOutbox opens or creates the outbox at path. A blob that cannot be
// parsed is moved aside and the outbox starts empty.
func NewFileOutbox(path string) (*FileOutbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}

	o := &FileOutbox{path: path}
	events, err := o.load()
	if err != nil {
		return nil, err
	}
	o.events = events
	return o, nil
}

func (o *FileOutbox) load() ([]types.Event, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.Event{}, nil
		}
		return nil, fmt.Errorf("read outbox: %w", err)
	}

	var f outboxFile
	if err := json.Unmarshal(data, &f); err != nil || f.Version != outboxFileVersion {
		if err == nil {
			err = fmt.Errorf("unsupported version %d", f.Version)
		}
		return o.quarantine(err)
	}
	if f.Events == nil {
		f.Events = []types.Event{}
	}
	return f.Events, nil
}

func (o *FileOutbox) quarantine(cause error) ([]types.Event, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", o.path, time.Now().Unix())
	if err := os.Rename(o.path, dest); err != nil {
		return nil, fmt.Errorf("quarantine corrupt outbox: %w", err)
	}
	slog.Error("corrupt outbox quarantined",
		"component", "outbox",
		"action", "quarantine",
		"path", o.path,
		"moved_to", dest,
		"error", cause,
	)
	return []types.Event{}, nil
}

// persist writes events atomically. The in-memory copy is only replaced by
// callers after persist succeeds.
func (o *FileOutbox) persist(events []types.Event) error {
	data, err := json.Marshal(outboxFile{Version: outboxFileVersion, Events: events})
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}

	dir := filepath.Dir(o.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(o.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create outbox temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write outbox: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync outbox: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close outbox temp file: %w", err)
	}
	if err := os.Rename(tmpName, o.path); err != nil {
		return fmt.Errorf("replace outbox: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open outbox directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync outbox directory: %w", err)
	}
	return nil
}

// Enqueue appends ev and persists the outbox before returning.
func (o *FileOutbox) Enqueue(ev types.Event) error {
	if err := ev.CheckTimestamp(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	next := make([]types.Event, len(o.events), len(o.events)+1)
	copy(next, o.events)
	next = append(next, ev)

	if err := o.persist(next); err != nil {
		return err
	}
	o.events = next
	return nil
}

// Snapshot returns an ordered copy of the queued events.
func (o *FileOutbox) Snapshot() ([]types.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]types.Event, len(o.events))
	copy(out, o.events)
	return out, nil
}

// ClearPrefix removes the first n events.
func (o *FileOutbox) ClearPrefix(n int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n < 0 || n > len(o.events) {
		return fmt.Errorf("clear prefix of %d events: outbox holds %d", n, len(o.events))
	}
	if n == 0 {
		return nil
	}

	next := make([]types.Event, len(o.events)-n)
	copy(next, o.events[n:])

	if err := o.persist(next); err != nil {
		return err
	}
	o.events = next
	return nil
}

// Clear removes every event.
func (o *FileOutbox) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.persist([]types.Event{}); err != nil {
		return err
	}
	o.events = []types.Event{}
	return nil
}

func (o *FileOutbox) IsEmpty() (bool, error) {
	n, err := o.Len()
	return n == 0, err
}

func (o *FileOutbox) Len() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events), nil
}

// Close is a no-op; every mutation is already on disk.
func (o *FileOutbox) Close() error {
	return nil
}
