// Package ingest converts protocol events into conversation-store state:
// resolve canonical identifiers, merge equivalent conversations, drop
// duplicates, attribute self-sent messages, persist, and republish a
// normalized event.
package ingest

import "github.com/wapanel/wapanel/internal/convo"

// Message content types. Non-content subtypes never reach the store.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeContact  = "contact"
	TypeLocation = "location"
	TypeUnknown  = "unknown"

	// Protocol-internal subtypes, discarded before any store mutation.
	TypeReceipt  = "receipt"
	TypeReaction = "reaction"
	TypePoll     = "poll"
	TypeProtocol = "protocol"
)

var nonContent = map[string]bool{
	TypeReceipt:  true,
	TypeReaction: true,
	TypePoll:     true,
	TypeProtocol: true,
}

// Event is the closed set of protocol events the pipeline consumes. The
// protocol adapter converts its native shapes into these at the boundary;
// nothing past this package touches raw protocol payloads.
type Event interface{ isEvent() }

// Message is a single-message upsert.
type Message struct {
	ChatID     string
	SenderID   string
	SenderName string
	MsgID      string
	FromMe     bool
	Timestamp  int64
	Type       string
	Body       string
	MediaPath  string
	Location   *convo.Location
}

// History is a snapshot batch of messages delivered on (re)connect.
type History struct {
	Messages []Message
}

// Contact is a contact upsert/update. LinkedID and PhoneID are both set
// only when the protocol event itself carried both forms; that is the only
// evidence on which a linked↔phone equivalence is ever recorded.
type Contact struct {
	ID       string
	Name     string
	LinkedID string
	PhoneID  string
}

// ChatMeta is a chat metadata update (subject, group flag, photo).
type ChatMeta struct {
	ID       string
	Name     string
	IsGroup  bool
	PhotoRef string
}

// Connection lifecycle states reported by the protocol adapter.
const (
	StateConnecting   = "connecting"
	StatePairing      = "pairing"
	StateConnected    = "connected"
	StateReady        = "ready"
	StateDisconnected = "disconnected"
	StateLoggedOut    = "logged_out"
	StateError        = "error"
)

// ConnState is a connection lifecycle change from the protocol client.
type ConnState struct {
	State  string
	Detail string
}

func (Message) isEvent()   {}
func (History) isEvent()   {}
func (Contact) isEvent()   {}
func (ChatMeta) isEvent()  {}
func (ConnState) isEvent() {}
