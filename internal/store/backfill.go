package store

import (
	"database/sql"
	"fmt"

	"github.com/wapanel/wapanel/internal/ident"
)

// BackfillAliases is the one-time-per-activation pass over a device's
// durable rows: it ensures every known identifier of a conversation has an
// alias row pointing at the conversation's row, and merges conversation
// rows that share the same normalized phone key into the most-recently-
// active row, repointing messages and aliases and deleting the losers.
// Returns the number of conversation rows merged away.
func (db *DB) BackfillAliases(deviceID string) (int64, error) {
	_, links, err := db.LoadAliases(deviceID)
	if err != nil {
		return 0, fmt.Errorf("load links: %w", err)
	}

	rows, err := db.Query(`
		SELECT id, last_activity FROM conversations WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, err
	}
	type row struct {
		id           string
		lastActivity int64
	}
	var convos []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.lastActivity); err != nil {
			_ = rows.Close()
			return 0, err
		}
		convos = append(convos, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	// Group rows by normalized phone key: the suffixless phone form, with
	// linked identifiers translated through the explicit mapping only.
	byKey := make(map[string][]row)
	for _, r := range convos {
		key := ident.StripDevice(r.id)
		if ident.Classify(key) == ident.KindLinked {
			if phone := links[key]; phone != "" {
				key = phone
			}
		}
		byKey[key] = append(byKey[key], r)
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var merged int64
	for key, group := range byKey {
		winner := group[0]
		for _, r := range group[1:] {
			if r.lastActivity > winner.lastActivity {
				winner = r
			} else if r.lastActivity == winner.lastActivity && ident.Preferred(r.id, winner.id) == r.id {
				winner = r
			}
		}

		// The winner keeps (or gains) the normalized key as its row ID so
		// future resolution lands on it directly.
		target := winner.id
		if ident.Classify(key) != ident.KindLinked && key != winner.id {
			target = key
		}

		for _, r := range group {
			if r.id == target {
				continue
			}
			if err := mergeRow(tx, deviceID, r.id, target); err != nil {
				return 0, fmt.Errorf("merge %q into %q: %w", r.id, target, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO aliases (device_id, raw, convo_id) VALUES (?, ?, ?)
				ON CONFLICT(device_id, raw) DO UPDATE SET convo_id = excluded.convo_id`,
				deviceID, r.id, target); err != nil {
				return 0, err
			}
			// Repoint alias rows that still targeted the losing row, so
			// every row stays single-hop.
			if _, err := tx.Exec(`
				UPDATE aliases SET convo_id = ? WHERE device_id = ? AND convo_id = ?`,
				target, deviceID, r.id); err != nil {
				return 0, err
			}
			merged++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return merged, nil
}

// mergeRow folds one conversation row into another: messages repointed,
// metadata combined (max activity, summed unread, loser fills empty name),
// loser deleted.
func mergeRow(tx *sql.Tx, deviceID, losing, winning string) error {
	if _, err := tx.Exec(`
		INSERT INTO conversations (device_id, id, name, is_group, unread_count, last_activity, photo_ref, updated_at)
		SELECT device_id, ?, name, is_group, unread_count, last_activity, photo_ref, updated_at
		FROM conversations WHERE device_id = ? AND id = ?
		ON CONFLICT(device_id, id) DO UPDATE SET
			name = CASE WHEN conversations.name = '' THEN excluded.name ELSE conversations.name END,
			unread_count = conversations.unread_count + excluded.unread_count,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			photo_ref = CASE WHEN conversations.photo_ref = '' THEN excluded.photo_ref ELSE conversations.photo_ref END,
			updated_at = MAX(conversations.updated_at, excluded.updated_at)`,
		winning, deviceID, losing); err != nil {
		return fmt.Errorf("fold conversation row: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE messages SET convo_id = ? WHERE device_id = ? AND convo_id = ?`,
		winning, deviceID, losing); err != nil {
		return fmt.Errorf("repoint messages: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO contacts (device_id, convo_id, name, updated_at)
		SELECT device_id, ?, name, updated_at FROM contacts WHERE device_id = ? AND convo_id = ?
		ON CONFLICT(device_id, convo_id) DO UPDATE SET
			name = CASE WHEN contacts.name = '' THEN excluded.name ELSE contacts.name END`,
		winning, deviceID, losing); err != nil {
		return fmt.Errorf("fold contact row: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM contacts WHERE device_id = ? AND convo_id = ?`, deviceID, losing); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE device_id = ? AND id = ?`, deviceID, losing); err != nil {
		return err
	}
	return nil
}
