package convo

// Origin classifies who produced a message.
type Origin string

const (
	OriginPanel   Origin = "panel"
	OriginDevice  Origin = "device"
	OriginContact Origin = "contact"
)

// Conversation is the per-conversation metadata kept under its canonical
// identifier.
type Conversation struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsGroup      bool   `json:"is_group"`
	LastActivity int64  `json:"last_activity"`
	Unread       int    `json:"unread"`
	PhotoRef     string `json:"photo_ref,omitempty"`
}

// Location is an optional geographic point attached to a message.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Message is a stored message under its canonical conversation identifier.
// MsgID may be empty for protocol events that carry no message ID.
type Message struct {
	ConvoID   string    `json:"convo_id"`
	MsgID     string    `json:"msg_id,omitempty"`
	FromMe    bool      `json:"from_me"`
	Origin    Origin    `json:"origin"`
	Timestamp int64     `json:"timestamp"`
	Body      string    `json:"body,omitempty"`
	MediaPath string    `json:"media_path,omitempty"`
	Location  *Location `json:"location,omitempty"`
}
