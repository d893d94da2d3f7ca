package store

import (
	"database/sql"

	"github.com/wapanel/wapanel/internal/convo"
)

// SearchResult holds a matched message with a search snippet.
type SearchResult struct {
	Message convo.Message
	Snippet string
}

// SearchMessages performs a full-text search over a device's message
// bodies, optionally restricted to one conversation.
func (db *DB) SearchMessages(deviceID, query, convoID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.convo_id, m.msg_id, m.from_me, m.origin, m.body, m.media_path, m.lat, m.lng, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ? AND m.device_id = ?`

	args := []any{query, deviceID}
	if convoID != "" {
		q += " AND m.convo_id = ?"
		args = append(args, convoID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var origin string
		var lat, lng sql.NullFloat64
		if err := rows.Scan(
			&r.Message.ConvoID, &r.Message.MsgID, &r.Message.FromMe, &origin,
			&r.Message.Body, &r.Message.MediaPath, &lat, &lng, &r.Message.Timestamp,
			&r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.Origin = convo.Origin(origin)
		if lat.Valid && lng.Valid {
			r.Message.Location = &convo.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
