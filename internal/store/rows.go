package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/persist"
)

// UpsertDevice registers a device partition.
func (db *DB) UpsertDevice(id string) error {
	_, err := db.Exec(`
		INSERT INTO devices (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UnixMilli())
	return err
}

// ListDevices returns all registered device IDs.
func (db *DB) ListDevices() ([]string, error) {
	rows, err := db.Query(`SELECT id FROM devices ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDevice removes a device partition and all its derived rows.
func (db *DB) DeleteDevice(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"messages", "conversations", "contacts", "aliases", "links", "devices"} {
		col := "device_id"
		if table == "devices" {
			col = "id"
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, col), id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// AppendMessage inserts a message row, idempotent on (device_id, msg_id),
// and rolls the conversation row forward in the same transaction.
func (db *DB) AppendMessage(deviceID string, rec persist.Record) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := rec.Message
	var lat, lng sql.NullFloat64
	if m.Location != nil {
		lat = sql.NullFloat64{Float64: m.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: m.Location.Lng, Valid: true}
	}
	now := time.Now().UnixMilli()

	res, err := tx.Exec(`
		INSERT INTO messages (device_id, convo_id, msg_id, from_me, origin, body, media_path, lat, lng, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, msg_id) WHERE msg_id != '' DO NOTHING`,
		deviceID, m.ConvoID, m.MsgID, m.FromMe, string(m.Origin), m.Body, m.MediaPath, lat, lng, m.Timestamp, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Duplicate delivery, dropped.
		return tx.Commit()
	}

	unreadDelta := 0
	if !m.FromMe {
		unreadDelta = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (device_id, id, name, is_group, unread_count, last_activity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, id) DO UPDATE SET
			name = CASE WHEN conversations.name = '' THEN excluded.name ELSE conversations.name END,
			is_group = MAX(conversations.is_group, excluded.is_group),
			unread_count = conversations.unread_count + ?,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			updated_at = excluded.updated_at`,
		deviceID, m.ConvoID, rec.Name, rec.IsGroup, unreadDelta, m.Timestamp, now, unreadDelta); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return tx.Commit()
}

// UpsertConversationMeta applies a metadata-only update (rename, read mark,
// photo ref).
func (db *DB) UpsertConversationMeta(deviceID string, rec persist.Record) error {
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO conversations (device_id, id, name, is_group, photo_ref, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			is_group = MAX(conversations.is_group, excluded.is_group),
			photo_ref = CASE WHEN excluded.photo_ref != '' THEN excluded.photo_ref ELSE conversations.photo_ref END,
			updated_at = excluded.updated_at`,
		deviceID, rec.ConvoID, rec.Name, rec.IsGroup, rec.PhotoRef, now); err != nil {
		return err
	}
	if rec.Unread != nil {
		if _, err := db.Exec(`UPDATE conversations SET unread_count = ? WHERE device_id = ? AND id = ?`,
			*rec.Unread, deviceID, rec.ConvoID); err != nil {
			return err
		}
	}
	return nil
}

// UpsertContact records a contact display name under a canonical ID.
func (db *DB) UpsertContact(deviceID, convoID, name string) error {
	_, err := db.Exec(`
		INSERT INTO contacts (device_id, convo_id, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, convo_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			updated_at = excluded.updated_at`,
		deviceID, convoID, name, time.Now().UnixMilli())
	return err
}

// ReplaceAliases rewrites a device's alias and link tables in one
// transaction.
func (db *DB) ReplaceAliases(deviceID string, aliases, links map[string]string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM aliases WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("clear aliases: %w", err)
	}
	for raw, convoID := range aliases {
		if _, err := tx.Exec(`INSERT INTO aliases (device_id, raw, convo_id) VALUES (?, ?, ?)`,
			deviceID, raw, convoID); err != nil {
			return fmt.Errorf("insert alias %q: %w", raw, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM links WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for linked, phone := range links {
		if _, err := tx.Exec(`INSERT INTO links (device_id, linked, phone) VALUES (?, ?, ?)`,
			deviceID, linked, phone); err != nil {
			return fmt.Errorf("insert link %q: %w", linked, err)
		}
	}
	return tx.Commit()
}

// LoadAliases reads a device's durable alias and link tables.
func (db *DB) LoadAliases(deviceID string) (aliases, links map[string]string, err error) {
	aliases = map[string]string{}
	links = map[string]string{}

	rows, err := db.Query(`SELECT raw, convo_id FROM aliases WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var raw, convoID string
		if err := rows.Scan(&raw, &convoID); err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		aliases[raw] = convoID
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, nil, err
	}
	_ = rows.Close()

	rows, err = db.Query(`SELECT linked, phone FROM links WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var linked, phone string
		if err := rows.Scan(&linked, &phone); err != nil {
			return nil, nil, err
		}
		links[linked] = phone
	}
	return aliases, links, rows.Err()
}

// LoadRecords streams a device's rows back as log records: messages in
// timestamp order first, then conversation metadata, so that unread counts
// and names stored in the rows override whatever the message replay
// accumulated. Messages older than cutoff are skipped.
func (db *DB) LoadRecords(deviceID string, cutoff int64, apply func(persist.Record)) error {
	rows, err := db.Query(`
		SELECT convo_id, msg_id, from_me, origin, body, media_path, lat, lng, timestamp
		FROM messages
		WHERE device_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, deviceID, cutoff)
	if err != nil {
		return err
	}
	for rows.Next() {
		var m convo.Message
		var origin string
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&m.ConvoID, &m.MsgID, &m.FromMe, &origin, &m.Body, &m.MediaPath, &lat, &lng, &m.Timestamp); err != nil {
			_ = rows.Close()
			return err
		}
		m.Origin = convo.Origin(origin)
		if lat.Valid && lng.Valid {
			m.Location = &convo.Location{Lat: lat.Float64, Lng: lng.Float64}
		}
		apply(persist.Record{Kind: persist.RecordMessage, ConvoID: m.ConvoID, Message: m})
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	rows, err = db.Query(`
		SELECT c.id, c.name, c.is_group, c.unread_count, c.photo_ref,
			COALESCE(ct.name, '')
		FROM conversations c
		LEFT JOIN contacts ct ON ct.device_id = c.device_id AND ct.convo_id = c.id
		WHERE c.device_id = ?`, deviceID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var rec persist.Record
		var unread int
		var contactName string
		if err := rows.Scan(&rec.ConvoID, &rec.Name, &rec.IsGroup, &unread, &rec.PhotoRef, &contactName); err != nil {
			return err
		}
		rec.Kind = persist.RecordMeta
		rec.Unread = &unread
		if rec.Name == "" {
			rec.Name = contactName
		}
		apply(rec)
	}
	return rows.Err()
}

// DeleteMessagesBefore removes a device's messages older than cutoff.
func (db *DB) DeleteMessagesBefore(deviceID string, cutoff int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE device_id = ? AND timestamp < ?`, deviceID, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
