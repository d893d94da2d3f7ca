package ingest

import (
	"time"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/ident"
	"github.com/wapanel/wapanel/internal/pending"
	"github.com/wapanel/wapanel/internal/persist"
	"go.uber.org/zap"
)

// Persister is the durable side of the pipeline: either the per-device
// append-only log or the relational store, never both for one device.
type Persister interface {
	Seen(msgID string) bool
	Append(rec persist.Record)
	SaveAliases(aliases, links map[string]string)
}

// Pipeline processes protocol events for one device. It runs entirely on
// the device actor goroutine, so one event is handled to completion before
// the next starts and the store never sees concurrent writers.
type Pipeline struct {
	device    string
	store     *convo.Store
	ledger    *pending.Ledger
	persister Persister
	bus       *bus.Bus
	retention time.Duration
	logger    *zap.Logger

	// OnConnState, when set, receives connection lifecycle changes.
	OnConnState func(state, detail string)
	// OnNewChat, when set, is called once for a conversation created
	// straight from a message, before any name or photo is known.
	OnNewChat func(id string, isGroup bool)

	now func() time.Time
}

// New creates a pipeline for one device.
func New(device string, store *convo.Store, ledger *pending.Ledger, p Persister, b *bus.Bus, retention time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		device:    device,
		store:     store,
		ledger:    ledger,
		persister: p,
		bus:       b,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Cutoff returns the retention horizon in unix milliseconds, or 0 when
// retention is disabled.
func (p *Pipeline) Cutoff() int64 {
	if p.retention <= 0 {
		return 0
	}
	return p.now().Add(-p.retention).UnixMilli()
}

// Handle dispatches one protocol event.
func (p *Pipeline) Handle(evt Event) {
	switch e := evt.(type) {
	case Message:
		p.handleMessage(e)
	case History:
		for _, m := range e.Messages {
			p.handleMessage(m)
		}
		p.logger.Info("history snapshot ingested", zap.Int("messages", len(e.Messages)))
	case Contact:
		p.handleContact(e)
	case ChatMeta:
		p.handleChatMeta(e)
	case ConnState:
		if p.OnConnState != nil {
			p.OnConnState(e.State, e.Detail)
		}
		p.publish("device.status", e)
	}
}

func (p *Pipeline) handleMessage(m Message) {
	if ident.IsBroadcast(m.ChatID) {
		return
	}
	if nonContent[m.Type] {
		return
	}
	if cut := p.Cutoff(); cut > 0 && m.Timestamp < cut {
		return
	}

	canonical := p.store.Resolve(m.ChatID)

	if m.MsgID != "" && p.persister.Seen(m.MsgID) {
		return
	}
	_, getErr := p.store.Get(canonical)
	fresh := getErr != nil

	msg := convo.Message{
		ConvoID:   canonical,
		MsgID:     m.MsgID,
		FromMe:    m.FromMe,
		Timestamp: m.Timestamp,
		Body:      m.Body,
		MediaPath: m.MediaPath,
		Location:  m.Location,
	}
	if m.FromMe {
		msg.Origin = p.ledger.Attribute(canonical, m.MsgID, m.Body, m.Timestamp)
	} else {
		msg.Origin = convo.OriginContact
	}

	if !p.store.Apply(msg) {
		return
	}
	if !m.FromMe && m.SenderName != "" && ident.Classify(canonical) != ident.KindGroup {
		p.store.SetContactName(canonical, m.SenderName)
	}

	c := p.store.Upsert(canonical, "", ident.Classify(canonical) == ident.KindGroup)
	p.persister.Append(persist.Record{
		Kind:    persist.RecordMessage,
		ConvoID: canonical,
		Name:    c.Name,
		IsGroup: c.IsGroup,
		Message: msg,
	})
	p.flushAliases()

	if fresh && p.OnNewChat != nil {
		p.OnNewChat(canonical, c.IsGroup)
	}
	p.publish("message.new", msg)
}

func (p *Pipeline) handleContact(c Contact) {
	if c.LinkedID != "" && c.PhoneID != "" {
		p.store.AssertLink(c.LinkedID, c.PhoneID)
		// Fold any record already living under the linked form.
		p.store.Resolve(c.LinkedID)
	}
	id := c.ID
	if id == "" {
		id = c.PhoneID
	}
	if id == "" {
		return
	}
	canonical := p.store.Resolve(id)
	p.store.SetContactName(canonical, c.Name)
	p.flushAliases()
	p.publish("conversation.updated", canonical)
}

func (p *Pipeline) handleChatMeta(m ChatMeta) {
	if ident.IsBroadcast(m.ID) {
		return
	}
	canonical := p.store.Resolve(m.ID)
	c := p.store.Upsert(canonical, m.Name, m.IsGroup)
	if m.PhotoRef != "" {
		p.store.SetPhoto(canonical, m.PhotoRef)
	}
	p.persister.Append(persist.Record{
		Kind:     persist.RecordMeta,
		ConvoID:  canonical,
		Name:     c.Name,
		IsGroup:  c.IsGroup,
		PhotoRef: m.PhotoRef,
	})
	p.flushAliases()
	p.publish("conversation.updated", canonical)
}

func (p *Pipeline) flushAliases() {
	if p.store.ConsumeAliasDirty() {
		p.persister.SaveAliases(p.store.Aliases().All(), p.store.Links().All())
	}
}

func (p *Pipeline) publish(kind string, payload any) {
	p.bus.Publish(bus.Event{
		Kind:      kind,
		Device:    p.device,
		Timestamp: p.now(),
		Payload:   payload,
	})
}
