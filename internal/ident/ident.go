package ident

import "strings"

// Kind classifies a raw conversation identifier by its server part.
type Kind int

const (
	KindOther Kind = iota
	KindPhone
	KindPhoneDevice
	KindLinked
	KindGroup
	KindBroadcast
)

const (
	phoneServer     = "s.whatsapp.net"
	linkedServer    = "lid"
	groupServer     = "g.us"
	broadcastServer = "broadcast"
	newsServer      = "newsletter"
)

// Classify determines the identifier kind from its shape. Identifiers are
// "user@server" strings; the user part of a phone identifier may carry an
// agent/device suffix ("123.0:4@s.whatsapp.net").
func Classify(id string) Kind {
	user, server, ok := strings.Cut(id, "@")
	if !ok {
		return KindOther
	}
	switch server {
	case phoneServer:
		if strings.ContainsAny(user, ":.") {
			return KindPhoneDevice
		}
		return KindPhone
	case linkedServer:
		return KindLinked
	case groupServer:
		return KindGroup
	case broadcastServer, newsServer:
		return KindBroadcast
	default:
		return KindOther
	}
}

// StripDevice removes the agent/device suffix from a phone identifier's user
// part. Non-phone identifiers are returned unchanged.
func StripDevice(id string) string {
	user, server, ok := strings.Cut(id, "@")
	if !ok || server != phoneServer {
		return id
	}
	if i := strings.IndexAny(user, ":."); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}

// IsBroadcast reports whether the identifier is the broadcast/system
// pseudo-conversation (including status@broadcast).
func IsBroadcast(id string) bool {
	return Classify(id) == KindBroadcast
}

// rank orders identifier kinds for tie-breaking: higher wins.
func rank(id string) int {
	switch Classify(id) {
	case KindGroup:
		return 4
	case KindPhone:
		return 3
	case KindPhoneDevice:
		return 2
	case KindLinked:
		return 1
	default:
		return 0
	}
}

// Preferred picks which of two equivalent identifiers becomes canonical:
// group > phone without suffix > phone with suffix > linked identifier,
// and the shorter string on remaining ties.
func Preferred(a, b string) string {
	ra, rb := rank(a), rank(b)
	switch {
	case ra > rb:
		return a
	case rb > ra:
		return b
	case len(b) < len(a):
		return b
	default:
		return a
	}
}
