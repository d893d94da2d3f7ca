// Package persist implements the file storage mode: one append-only
// newline-delimited JSON message log per device plus a durable alias table,
// written through a single ordered queue.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wapanel/wapanel/internal/convo"
	"go.uber.org/zap"
)

const (
	logFile   = "messages.log"
	aliasFile = "aliases.json"
)

// Record kinds.
const (
	RecordMessage = "message"
	RecordMeta    = "meta"
)

// Record is one line of the per-device log: either a message plus the
// conversation display context it arrived under, or a metadata-only update
// (rename, read mark, photo ref) so those survive a restart.
type Record struct {
	Kind     string        `json:"kind"`
	ConvoID  string        `json:"convo_id"`
	Name     string        `json:"name,omitempty"`
	IsGroup  bool          `json:"is_group,omitempty"`
	Unread   *int          `json:"unread,omitempty"`
	PhotoRef string        `json:"photo_ref,omitempty"`
	Message  convo.Message `json:"message,omitzero"`
}

// aliasSnapshot is the durable form of the alias table and the explicitly
// evidenced linked↔phone mapping.
type aliasSnapshot struct {
	Aliases map[string]string `json:"aliases"`
	Links   map[string]string `json:"links"`
}

// FileStore persists one device's state as an append-only log. All writes
// are serialized through the store's queue; write failures are logged and
// swallowed, leaving the in-memory store authoritative for the session.
type FileStore struct {
	dir    string
	file   *os.File
	queue  *Queue
	recent *RecentIDs
	logger *zap.Logger
}

// OpenFileStore opens (creating as needed) the log for a device directory.
func OpenFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	return &FileStore{
		dir:    dir,
		file:   f,
		queue:  NewQueue(256),
		recent: NewRecentIDs(),
		logger: logger,
	}, nil
}

// Seen reports whether the message ID was already persisted within the
// recent window.
func (s *FileStore) Seen(msgID string) bool {
	return s.recent.Contains(msgID)
}

// Append enqueues one log record. The message ID enters the recent window
// immediately so duplicate events arriving before the write completes are
// still dropped.
func (s *FileStore) Append(rec Record) {
	s.recent.Add(rec.Message.MsgID)
	s.queue.Enqueue(func() {
		line, err := json.Marshal(rec)
		if err != nil {
			s.logger.Error("marshal log record", zap.Error(err))
			return
		}
		if _, err := s.file.Write(append(line, '\n')); err != nil {
			s.logger.Error("append to message log", zap.Error(err), zap.String("msg_id", rec.Message.MsgID))
		}
	})
}

// SaveAliases atomically rewrites the durable alias table.
func (s *FileStore) SaveAliases(aliases, links map[string]string) {
	s.queue.Enqueue(func() {
		if err := writeAtomic(filepath.Join(s.dir, aliasFile), aliasSnapshot{Aliases: aliases, Links: links}); err != nil {
			s.logger.Error("save alias table", zap.Error(err))
		}
	})
}

// LoadAliases reads the durable alias table, returning empty maps when no
// snapshot exists yet.
func (s *FileStore) LoadAliases() (aliases, links map[string]string, err error) {
	data, err := os.ReadFile(filepath.Join(s.dir, aliasFile))
	if os.IsNotExist(err) {
		return map[string]string{}, map[string]string{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read alias table: %w", err)
	}
	var snap aliasSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("decode alias table: %w", err)
	}
	if snap.Aliases == nil {
		snap.Aliases = map[string]string{}
	}
	if snap.Links == nil {
		snap.Links = map[string]string{}
	}
	return snap.Aliases, snap.Links, nil
}

// Hydrate replays the log forward, invoking apply for every record at or
// after cutoff. Replayed message IDs enter the recent window so restarts
// keep the idempotency guarantee.
func (s *FileStore) Hydrate(cutoff int64, apply func(Record)) error {
	f, err := os.Open(filepath.Join(s.dir, logFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open message log: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn tail write from a crash is expected; skip it.
			s.logger.Warn("skipping malformed log line", zap.Error(err))
			continue
		}
		if rec.Kind != RecordMeta {
			if rec.Message.Timestamp < cutoff {
				continue
			}
			s.recent.Add(rec.Message.MsgID)
		}
		apply(rec)
	}
	return sc.Err()
}

// Compact rewrites the log keeping only records at or after cutoff, writing
// to a temporary file and atomically replacing the original. It runs on the
// same queue as appends, so it never races one.
func (s *FileStore) Compact(cutoff int64) {
	s.queue.Enqueue(func() {
		if err := s.compact(cutoff); err != nil {
			s.logger.Error("compact message log", zap.Error(err))
		}
	})
}

func (s *FileStore) compact(cutoff int64) error {
	path := filepath.Join(s.dir, logFile)
	in, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = in.Close()
		return err
	}

	w := bufio.NewWriter(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Kind != RecordMeta && rec.Message.Timestamp < cutoff {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			_ = in.Close()
			_ = out.Close()
			return err
		}
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Swap the live append handle to the compacted file.
	_ = s.file.Close()
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// Drain blocks until all enqueued writes have completed.
func (s *FileStore) Drain() { s.queue.Drain() }

// Close drains the queue and closes the log file.
func (s *FileStore) Close() error {
	s.queue.Close()
	return s.file.Close()
}

// Destroy removes the device's persisted files. The store must be closed.
func (s *FileStore) Destroy() error {
	return os.RemoveAll(s.dir)
}

func writeAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
