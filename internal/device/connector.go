package device

import (
	"context"

	"github.com/wapanel/wapanel/internal/ingest"
)

// Pairing exchange steps.
const (
	PairCode    = "code"
	PairSuccess = "success"
	PairTimeout = "timeout"
	PairError   = "error"
)

// PairEvent is one step of a QR pairing exchange.
type PairEvent struct {
	Kind  string `json:"kind"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Connector drives the protocol connection for one device. The device
// actor never touches the wire directly; the connector translates wire
// traffic into ingest events and delivers them through the callback.
type Connector interface {
	// Start connects (or begins reconnecting) and delivers every
	// subsequent protocol event through deliver.
	Start(ctx context.Context, deliver func(ingest.Event)) error
	SendText(ctx context.Context, chatID, text string) (msgID string, err error)
	SendMedia(ctx context.Context, chatID, path, mime, caption string) (msgID string, err error)
	// FetchGroupSubject asks the wire for a group's current subject.
	FetchGroupSubject(ctx context.Context, chatID string) (string, error)
	// FetchProfilePhoto asks the wire for a chat's profile photo
	// reference; empty means the chat has none.
	FetchProfilePhoto(ctx context.Context, chatID string) (string, error)
	// PairQR begins a QR pairing exchange. The channel closes when the
	// exchange ends, successfully or not.
	PairQR(ctx context.Context) (<-chan PairEvent, error)
	Stop()
	// Destroy logs out and removes the wire session.
	Destroy(ctx context.Context) error
}
