package store

import (
	"github.com/wapanel/wapanel/internal/persist"
	"go.uber.org/zap"
)

// SQLStore adapts one device's partition of the panel database to the
// persister contract the ingestion pipeline and device actor use. Writes
// are serialized through the device's ordered queue, same as the file
// mode; failures are logged and swallowed so the in-memory store stays
// authoritative for the session.
type SQLStore struct {
	db     *DB
	device string
	queue  *persist.Queue
	recent *persist.RecentIDs
	logger *zap.Logger
}

// NewSQLStore registers the device partition and returns its adapter.
func NewSQLStore(db *DB, device string, logger *zap.Logger) (*SQLStore, error) {
	if err := db.UpsertDevice(device); err != nil {
		return nil, err
	}
	return &SQLStore{
		db:     db,
		device: device,
		queue:  persist.NewQueue(256),
		recent: persist.NewRecentIDs(),
		logger: logger,
	}, nil
}

// Seen reports whether the message ID is in the recent window.
func (s *SQLStore) Seen(msgID string) bool {
	return s.recent.Contains(msgID)
}

// Append enqueues a record write. Message rows are idempotent on
// (device, msg_id); metadata records update the conversation row.
func (s *SQLStore) Append(rec persist.Record) {
	if rec.Kind != persist.RecordMeta {
		s.recent.Add(rec.Message.MsgID)
	}
	s.queue.Enqueue(func() {
		var err error
		if rec.Kind == persist.RecordMeta {
			err = s.db.UpsertConversationMeta(s.device, rec)
		} else {
			err = s.db.AppendMessage(s.device, rec)
		}
		if err != nil {
			s.logger.Error("write message row", zap.Error(err), zap.String("msg_id", rec.Message.MsgID))
		}
	})
}

// SaveAliases enqueues a rewrite of the device's alias and link rows.
func (s *SQLStore) SaveAliases(aliases, links map[string]string) {
	s.queue.Enqueue(func() {
		if err := s.db.ReplaceAliases(s.device, aliases, links); err != nil {
			s.logger.Error("write alias rows", zap.Error(err))
		}
	})
}

// LoadAliases reads the device's durable alias and link rows.
func (s *SQLStore) LoadAliases() (aliases, links map[string]string, err error) {
	return s.db.LoadAliases(s.device)
}

// Hydrate replays the device's rows through apply, refilling the recent
// message-ID window.
func (s *SQLStore) Hydrate(cutoff int64, apply func(persist.Record)) error {
	return s.db.LoadRecords(s.device, cutoff, func(rec persist.Record) {
		if rec.Kind != persist.RecordMeta {
			s.recent.Add(rec.Message.MsgID)
		}
		apply(rec)
	})
}

// Compact deletes rows older than cutoff, on the device's write queue so
// it never races an append.
func (s *SQLStore) Compact(cutoff int64) {
	s.queue.Enqueue(func() {
		n, err := s.db.DeleteMessagesBefore(s.device, cutoff)
		if err != nil {
			s.logger.Error("delete expired rows", zap.Error(err))
			return
		}
		if n > 0 {
			s.logger.Info("expired message rows deleted", zap.Int64("rows", n))
		}
	})
}

// Search runs a full-text query over the device's messages.
func (s *SQLStore) Search(query, convoID string, limit int) ([]SearchResult, error) {
	return s.db.SearchMessages(s.device, query, convoID, limit)
}

// Backfill normalizes existing conversation rows against the current alias
// evidence. Pending writes are drained first so the scan sees them.
func (s *SQLStore) Backfill() (int64, error) {
	s.queue.Drain()
	return s.db.BackfillAliases(s.device)
}

// Drain blocks until all enqueued writes complete.
func (s *SQLStore) Drain() { s.queue.Drain() }

// Close drains and stops the write queue. The shared database handle stays
// open; it belongs to the panel, not the device.
func (s *SQLStore) Close() error {
	s.queue.Close()
	return nil
}

// Destroy removes every row of the device's partition.
func (s *SQLStore) Destroy() error {
	return s.db.DeleteDevice(s.device)
}
