// Package pending tracks messages the operator UI just dispatched so that
// the matching self-sent protocol event can be attributed back to the panel
// instead of the physical device app.
package pending

import "github.com/wapanel/wapanel/internal/convo"

// textMatchWindowMs bounds how far apart a pending send and a self-sent
// event may be for a text-equality match.
const textMatchWindowMs = 15_000

// defaultCap bounds the ledger so unmatched entries cannot accumulate.
const defaultCap = 200

// Entry records one operator-dispatched message awaiting attribution.
type Entry struct {
	ConvoID string
	MsgID   string
	Body    string
	SentAt  int64
}

// Ledger is a per-device, capacity-bounded list of pending sends. It is
// owned by the device actor goroutine; no locking.
type Ledger struct {
	entries []Entry
	cap     int
}

// NewLedger creates a ledger with the default capacity bound.
func NewLedger() *Ledger {
	return &Ledger{cap: defaultCap}
}

// Add records a dispatched message, evicting the oldest entry beyond the
// capacity bound.
func (l *Ledger) Add(e Entry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Len returns the number of pending entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Attribute classifies a self-originated message event. A message-ID match,
// or a same-conversation text match within the time window, consumes the
// entry and classifies the event as panel-originated; anything else came
// from the device app.
func (l *Ledger) Attribute(convoID, msgID, body string, ts int64) convo.Origin {
	if msgID != "" {
		for i, e := range l.entries {
			if e.MsgID == msgID && e.ConvoID == convoID {
				l.remove(i)
				return convo.OriginPanel
			}
		}
	}
	if body != "" {
		for i, e := range l.entries {
			if e.ConvoID == convoID && e.Body == body && abs(ts-e.SentAt) <= textMatchWindowMs {
				l.remove(i)
				return convo.OriginPanel
			}
		}
	}
	return convo.OriginDevice
}

// Tag attaches the server-assigned message ID to the entry recorded at
// sentAt, once the send call returns. No-op if the entry was already
// consumed by an event that raced the send response.
func (l *Ledger) Tag(convoID string, sentAt int64, msgID string) {
	for i := range l.entries {
		if l.entries[i].ConvoID == convoID && l.entries[i].SentAt == sentAt && l.entries[i].MsgID == "" {
			l.entries[i].MsgID = msgID
			return
		}
	}
}

func (l *Ledger) remove(i int) {
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
