package convo

import (
	"errors"
	"sort"
	"strings"

	"github.com/wapanel/wapanel/internal/ident"
)

// ErrNotFound is returned by read operations on an unknown conversation.
var ErrNotFound = errors.New("conversation not found")

// dupWindow bounds how deep the per-conversation tail is scanned for
// duplicate message IDs on append.
const dupWindow = 200

// Store is a single device's in-memory conversation state. It is owned by
// the device actor goroutine, which is its only writer, so no locking is
// needed here. The durable copy lives in the persistence layer; the Store
// is a working cache reconstructed from it at startup.
type Store struct {
	conversations map[string]*Conversation
	messages      map[string][]Message
	contacts      map[string]string
	photos        map[string]string
	aliases       *ident.Table
	links         *ident.LinkMap
	aliasDirty    bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		contacts:      make(map[string]string),
		photos:        make(map[string]string),
		aliases:       ident.NewTable(),
		links:         ident.NewLinkMap(),
	}
}

// Aliases exposes the alias table for persistence snapshots.
func (s *Store) Aliases() *ident.Table { return s.aliases }

// Links exposes the linked↔phone mapping for persistence snapshots.
func (s *Store) Links() *ident.LinkMap { return s.links }

// Resolve maps any observed identifier to its canonical identifier,
// extending the alias table and merging conversation records as new
// equivalences surface. Resolving a canonical identifier returns itself.
func (s *Store) Resolve(raw string) string {
	if c, ok := s.aliases.Get(raw); ok {
		return c
	}
	switch ident.Classify(raw) {
	case ident.KindGroup, ident.KindBroadcast:
		return raw
	case ident.KindLinked:
		phone := s.links.PhoneForLinked(raw)
		if phone == "" {
			// Equivalence is never guessed: without explicit evidence the
			// linked identifier is its own canonical form.
			return raw
		}
		s.Merge(raw, phone)
		return phone
	case ident.KindPhone, ident.KindPhoneDevice:
		base := ident.StripDevice(raw)
		if base != raw {
			s.Merge(raw, base)
		}
		if linked := s.links.LinkedForPhone(base); linked != "" {
			_, hasLinked := s.conversations[linked]
			_, hasPhone := s.conversations[base]
			if hasLinked && !hasPhone {
				s.Merge(linked, base)
			}
		}
		return base
	default:
		return raw
	}
}

// AssertLink records an explicitly evidenced linked↔phone equivalence, e.g.
// from a protocol event that carried both forms. Conversation records are
// folded together on the next Resolve touching either form.
func (s *Store) AssertLink(linked, phone string) {
	if linked == "" || phone == "" {
		return
	}
	s.links.Assert(linked, phone)
	s.aliasDirty = true
}

// ConsumeAliasDirty reports whether the alias state changed since the last
// call, and clears the flag. The persistence layer uses it to decide when
// to rewrite the durable alias table.
func (s *Store) ConsumeAliasDirty() bool {
	d := s.aliasDirty
	s.aliasDirty = false
	return d
}

// Merge folds the losing conversation into the winning one. Idempotent;
// no-op when either identifier is empty or they are equal. Afterward every
// alias that targeted the loser targets the winner directly.
func (s *Store) Merge(losing, winning string) {
	if losing == "" || winning == "" || losing == winning {
		return
	}
	s.aliases.Rewrite(losing, winning)
	s.aliasDirty = true

	loser, hasLoser := s.conversations[losing]
	winner, hasWinner := s.conversations[winning]
	switch {
	case hasLoser && !hasWinner:
		loser.ID = winning
		s.conversations[winning] = loser
		delete(s.conversations, losing)
	case hasLoser && hasWinner:
		if loser.LastActivity > winner.LastActivity {
			winner.LastActivity = loser.LastActivity
		}
		winner.Unread += loser.Unread
		if winner.Name == "" {
			winner.Name = loser.Name
		}
		delete(s.conversations, losing)
	}

	if moved := s.messages[losing]; len(moved) > 0 {
		merged := append(s.messages[winning], moved...)
		for i := range merged {
			merged[i].ConvoID = winning
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Timestamp < merged[j].Timestamp
		})
		s.messages[winning] = dedupeByID(merged)
	}
	delete(s.messages, losing)

	if s.contacts[winning] == "" && s.contacts[losing] != "" {
		s.contacts[winning] = s.contacts[losing]
	}
	delete(s.contacts, losing)
	if s.photos[winning] == "" && s.photos[losing] != "" {
		s.photos[winning] = s.photos[losing]
	}
	delete(s.photos, losing)
}

func dedupeByID(msgs []Message) []Message {
	seen := make(map[string]bool, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if m.MsgID != "" {
			if seen[m.MsgID] {
				continue
			}
			seen[m.MsgID] = true
		}
		out = append(out, m)
	}
	return out
}

// Apply appends a message under its canonical conversation ID and rolls the
// conversation metadata forward. Returns false when the message ID is
// already present in the recent tail of the conversation.
func (s *Store) Apply(msg Message) bool {
	list := s.messages[msg.ConvoID]
	if msg.MsgID != "" {
		tail := list
		if len(tail) > dupWindow {
			tail = tail[len(tail)-dupWindow:]
		}
		for i := range tail {
			if tail[i].MsgID == msg.MsgID {
				return false
			}
		}
	}
	// Keep the list timestamp-ordered; ties preserve insertion order.
	n := len(list)
	list = append(list, msg)
	for i := n; i > 0 && list[i-1].Timestamp > list[i].Timestamp; i-- {
		list[i-1], list[i] = list[i], list[i-1]
	}
	s.messages[msg.ConvoID] = list

	c := s.conversations[msg.ConvoID]
	if c == nil {
		c = &Conversation{ID: msg.ConvoID, IsGroup: ident.Classify(msg.ConvoID) == ident.KindGroup}
		s.conversations[msg.ConvoID] = c
	}
	if msg.Timestamp > c.LastActivity {
		c.LastActivity = msg.Timestamp
	}
	if !msg.FromMe {
		c.Unread++
	}
	return true
}

// Upsert creates or updates conversation metadata under the canonical ID.
// Empty fields never overwrite populated ones.
func (s *Store) Upsert(id, name string, isGroup bool) *Conversation {
	c := s.conversations[id]
	if c == nil {
		c = &Conversation{ID: id}
		s.conversations[id] = c
	}
	if name != "" {
		c.Name = name
	}
	if isGroup {
		c.IsGroup = true
	}
	return c
}

// SetContactName records a contact display name under the canonical ID.
func (s *Store) SetContactName(id, name string) {
	if name != "" {
		s.contacts[id] = name
	}
}

// SetPhoto records a profile-photo reference under the canonical ID.
func (s *Store) SetPhoto(id, ref string) {
	if ref != "" {
		s.photos[id] = ref
		if c := s.conversations[id]; c != nil {
			c.PhotoRef = ref
		}
	}
}

// ContactName returns the cached contact name for a canonical ID, or "".
func (s *Store) ContactName(id string) string { return s.contacts[id] }

// List returns all conversations sorted by last activity, newest first.
// Display names fall back to the contact cache, then the identifier.
func (s *Store) List() []Conversation {
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cc := *c
		if cc.Name == "" {
			cc.Name = s.contacts[cc.ID]
		}
		if cc.Name == "" {
			cc.Name = cc.ID
		}
		if ref := s.photos[cc.ID]; ref != "" {
			cc.PhotoRef = ref
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity > out[j].LastActivity
	})
	return out
}

// Messages returns up to limit most recent messages of a conversation in
// chronological order. The identifier is resolved first, so aliases work.
func (s *Store) Messages(id string, limit int) ([]Message, error) {
	canonical := s.Resolve(id)
	list, ok := s.messages[canonical]
	if !ok {
		if _, metaOnly := s.conversations[canonical]; !metaOnly {
			return nil, ErrNotFound
		}
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]Message, len(list))
	copy(out, list)
	return out, nil
}

// Search scans message bodies for a case-insensitive substring match,
// optionally restricted to one conversation.
func (s *Store) Search(query, convoID string, limit int) []Message {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(query)
	var out []Message
	for id, list := range s.messages {
		if convoID != "" && id != convoID {
			continue
		}
		for _, m := range list {
			if m.Body != "" && strings.Contains(strings.ToLower(m.Body), needle) {
				out = append(out, m)
				if len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

// Get returns a snapshot of a conversation, resolving aliases.
func (s *Store) Get(id string) (Conversation, error) {
	c := s.conversations[s.Resolve(id)]
	if c == nil {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

// MarkRead zeroes the unread counter of a conversation.
func (s *Store) MarkRead(id string) error {
	c := s.conversations[s.Resolve(id)]
	if c == nil {
		return ErrNotFound
	}
	c.Unread = 0
	return nil
}

// Rename sets an operator-chosen display name on a conversation.
func (s *Store) Rename(id, name string) error {
	c := s.conversations[s.Resolve(id)]
	if c == nil {
		return ErrNotFound
	}
	c.Name = name
	return nil
}

// Reset drops all in-memory state. The durable copy is untouched.
func (s *Store) Reset() {
	s.conversations = make(map[string]*Conversation)
	s.messages = make(map[string][]Message)
	s.contacts = make(map[string]string)
	s.photos = make(map[string]string)
	s.aliases = ident.NewTable()
	s.links = ident.NewLinkMap()
}

// Prune removes every message older than cutoff. A conversation whose
// message list empties out is dropped from the message map; its metadata
// entry stays.
func (s *Store) Prune(cutoff int64) int {
	removed := 0
	for id, list := range s.messages {
		kept := list[:0]
		for _, m := range list {
			if m.Timestamp >= cutoff {
				kept = append(kept, m)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.messages, id)
		} else {
			s.messages[id] = kept
		}
	}
	return removed
}

// MessageCount returns the total number of stored messages.
func (s *Store) MessageCount() int {
	n := 0
	for _, list := range s.messages {
		n += len(list)
	}
	return n
}
