// Package device hosts one actor goroutine per connected account. The
// actor owns the in-memory conversation state, the pending-send ledger
// and the ingest pipeline; every event and every query runs as a task on
// its mailbox, so per-device state never sees two goroutines at once.
package device

import (
	"errors"
	"sync"
	"time"

	"context"

	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/ingest"
	"github.com/wapanel/wapanel/internal/pending"
	"github.com/wapanel/wapanel/internal/persist"
	"github.com/wapanel/wapanel/internal/status"
)

var (
	// ErrStopped is returned by operations on a stopped device.
	ErrStopped = errors.New("device stopped")
	// ErrNotConnected is returned by wire operations without a connector.
	ErrNotConnected = errors.New("device has no protocol connection")
	// ErrUnsupported is returned when the storage backend lacks the
	// requested capability.
	ErrUnsupported = errors.New("operation not supported by storage backend")
)

const mailboxSize = 256

// SearchHit is one search match. Snippet is only set by backends with
// full-text search.
type SearchHit struct {
	Message convo.Message `json:"message"`
	Snippet string        `json:"snippet,omitempty"`
}

// Device is the actor owning all state of one account.
type Device struct {
	ID string

	store   *convo.Store
	ledger  *pending.Ledger
	storage Storage
	pipe    *ingest.Pipeline
	machine *status.Machine
	conn    Connector
	bus     *bus.Bus
	logger  *zap.Logger

	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// New builds a device, hydrates its in-memory state from storage and
// starts the actor goroutine. The connector is not started; call Connect.
func New(id string, st Storage, conn Connector, b *bus.Bus, retention time.Duration, logger *zap.Logger) (*Device, error) {
	d := &Device{
		ID:      id,
		store:   convo.NewStore(),
		ledger:  pending.NewLedger(),
		storage: st,
		machine: status.NewMachine(id, b),
		conn:    conn,
		bus:     b,
		logger:  logger,
		tasks:   make(chan func(), mailboxSize),
		done:    make(chan struct{}),
	}
	d.pipe = ingest.New(id, d.store, d.ledger, st, b, retention, logger)
	d.pipe.OnConnState = d.onConnState
	d.pipe.OnNewChat = d.onNewChat

	if err := d.hydrate(); err != nil {
		return nil, err
	}
	go d.loop()
	return d, nil
}

func (d *Device) loop() {
	for fn := range d.tasks {
		fn()
	}
	close(d.done)
}

// post schedules fn on the actor; false once the device is stopped.
func (d *Device) post(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.tasks <- fn
	return true
}

// do runs fn on the actor and waits for it to finish.
func (d *Device) do(fn func()) error {
	ran := make(chan struct{})
	if !d.post(func() { fn(); close(ran) }) {
		return ErrStopped
	}
	<-ran
	return nil
}

// hydrate replays durable state into the in-memory store. Called before
// the actor starts, or from an actor task; never concurrently with one.
func (d *Device) hydrate() error {
	aliases, links, err := d.storage.LoadAliases()
	if err != nil {
		return err
	}
	d.store.Aliases().Load(aliases)
	d.store.Links().Load(links)

	err = d.storage.Hydrate(d.pipe.Cutoff(), func(rec persist.Record) {
		c := d.store.Upsert(rec.ConvoID, rec.Name, rec.IsGroup)
		switch rec.Kind {
		case persist.RecordMeta:
			if rec.Unread != nil {
				c.Unread = *rec.Unread
			}
			if rec.PhotoRef != "" {
				d.store.SetPhoto(rec.ConvoID, rec.PhotoRef)
			}
		default:
			d.store.Apply(rec.Message)
		}
	})
	if err != nil {
		return err
	}
	d.logger.Info("state hydrated",
		zap.Int("conversations", len(d.store.List())),
		zap.Int("messages", d.store.MessageCount()))
	return nil
}

// Connect starts the protocol connector, feeding its events into the
// actor mailbox.
func (d *Device) Connect(ctx context.Context) error {
	if d.conn == nil {
		return ErrNotConnected
	}
	return d.conn.Start(ctx, d.Deliver)
}

// Deliver posts one protocol event to the actor. Events arriving after
// Stop are dropped.
func (d *Device) Deliver(evt ingest.Event) {
	d.post(func() { d.pipe.Handle(evt) })
}

// onConnState runs on the actor goroutine via the pipeline.
func (d *Device) onConnState(state, detail string) {
	var target status.State
	switch state {
	case ingest.StateConnecting:
		target = status.Connecting
	case ingest.StatePairing:
		target = status.Pairing
	case ingest.StateConnected:
		target = status.Syncing
	case ingest.StateReady:
		target = status.Ready
	case ingest.StateDisconnected:
		target = status.Reconnecting
	case ingest.StateLoggedOut:
		target = status.LoggedOut
	case ingest.StateError:
		target = status.Error
	default:
		return
	}
	if err := d.machine.Transition(target); err != nil {
		d.logger.Debug("connection state change ignored",
			zap.String("state", state), zap.String("detail", detail), zap.Error(err))
	}
}

// metaFetchTimeout bounds the on-demand subject/photo lookups for a chat
// seen for the first time.
const metaFetchTimeout = 20 * time.Second

// onNewChat runs on the actor when a conversation is created straight
// from a message, so only its raw identifier is known. The wire lookups
// run off the actor; results come back through the normal event path.
func (d *Device) onNewChat(id string, isGroup bool) {
	if d.conn == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metaFetchTimeout)
		defer cancel()

		meta := ingest.ChatMeta{ID: id, IsGroup: isGroup}
		if isGroup {
			name, err := d.conn.FetchGroupSubject(ctx, id)
			if err != nil {
				d.logger.Debug("fetch group subject", zap.String("chat", id), zap.Error(err))
			}
			meta.Name = name
		}
		ref, err := d.conn.FetchProfilePhoto(ctx, id)
		if err != nil {
			d.logger.Debug("fetch profile photo", zap.String("chat", id), zap.Error(err))
		}
		meta.PhotoRef = ref

		if meta.Name == "" && meta.PhotoRef == "" {
			return
		}
		d.Deliver(meta)
	}()
}

// Status returns the device's connection state.
func (d *Device) Status() status.State {
	return d.machine.Current()
}

// Conversations lists all conversations, newest activity first.
func (d *Device) Conversations() ([]convo.Conversation, error) {
	var out []convo.Conversation
	if err := d.do(func() { out = d.store.List() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages returns up to limit newest messages of one conversation.
func (d *Device) Messages(id string, limit int) ([]convo.Message, error) {
	var (
		msgs  []convo.Message
		opErr error
	)
	if err := d.do(func() { msgs, opErr = d.store.Messages(id, limit) }); err != nil {
		return nil, err
	}
	return msgs, opErr
}

// Search finds messages matching query, optionally within one
// conversation. Backends with full-text search serve it; otherwise an
// in-memory substring scan does.
func (d *Device) Search(query, convoID string, limit int) ([]SearchHit, error) {
	if fts, ok := d.storage.(Searcher); ok {
		var canonical string
		if convoID != "" {
			if err := d.do(func() { canonical = d.store.Resolve(convoID) }); err != nil {
				return nil, err
			}
		}
		res, err := fts.Search(query, canonical, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, len(res))
		for i, r := range res {
			hits[i] = SearchHit{Message: r.Message, Snippet: r.Snippet}
		}
		return hits, nil
	}

	var msgs []convo.Message
	if err := d.do(func() {
		filter := convoID
		if filter != "" {
			filter = d.store.Resolve(filter)
		}
		msgs = d.store.Search(query, filter, limit)
	}); err != nil {
		return nil, err
	}
	hits := make([]SearchHit, len(msgs))
	for i, m := range msgs {
		hits[i] = SearchHit{Message: m}
	}
	return hits, nil
}

// MarkRead zeroes a conversation's unread counter and records the change
// durably so it survives a restart.
func (d *Device) MarkRead(id string) error {
	var opErr error
	err := d.do(func() {
		if opErr = d.store.MarkRead(id); opErr != nil {
			return
		}
		c, _ := d.store.Get(id)
		zero := 0
		d.storage.Append(persist.Record{
			Kind:    persist.RecordMeta,
			ConvoID: c.ID,
			Name:    c.Name,
			IsGroup: c.IsGroup,
			Unread:  &zero,
		})
		d.publish("conversation.updated", c.ID)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Rename sets an operator-chosen display name on a conversation and
// records it durably.
func (d *Device) Rename(id, name string) error {
	var opErr error
	err := d.do(func() {
		if opErr = d.store.Rename(id, name); opErr != nil {
			return
		}
		c, _ := d.store.Get(id)
		d.storage.Append(persist.Record{
			Kind:    persist.RecordMeta,
			ConvoID: c.ID,
			Name:    c.Name,
			IsGroup: c.IsGroup,
		})
		d.publish("conversation.updated", c.ID)
	})
	if err != nil {
		return err
	}
	return opErr
}

// SendText dispatches a text message. The send is recorded in the
// pending ledger first so the echoed protocol event is attributed to the
// panel rather than the device app.
func (d *Device) SendText(ctx context.Context, chatID, text string) (string, error) {
	if d.conn == nil {
		return "", ErrNotConnected
	}
	var (
		canonical string
		sentAt    int64
	)
	if err := d.do(func() {
		canonical = d.store.Resolve(chatID)
		sentAt = time.Now().UnixMilli()
		d.ledger.Add(pending.Entry{ConvoID: canonical, Body: text, SentAt: sentAt})
	}); err != nil {
		return "", err
	}
	msgID, err := d.conn.SendText(ctx, canonical, text)
	if err != nil {
		return "", err
	}
	d.post(func() { d.ledger.Tag(canonical, sentAt, msgID) })
	return msgID, nil
}

// SendMedia dispatches a media message from a local file.
func (d *Device) SendMedia(ctx context.Context, chatID, path, mime, caption string) (string, error) {
	if d.conn == nil {
		return "", ErrNotConnected
	}
	var (
		canonical string
		sentAt    int64
	)
	if err := d.do(func() {
		canonical = d.store.Resolve(chatID)
		sentAt = time.Now().UnixMilli()
		d.ledger.Add(pending.Entry{ConvoID: canonical, Body: caption, SentAt: sentAt})
	}); err != nil {
		return "", err
	}
	msgID, err := d.conn.SendMedia(ctx, canonical, path, mime, caption)
	if err != nil {
		return "", err
	}
	d.post(func() { d.ledger.Tag(canonical, sentAt, msgID) })
	return msgID, nil
}

// Pair begins a QR pairing exchange.
func (d *Device) Pair(ctx context.Context) (<-chan PairEvent, error) {
	if d.conn == nil {
		return nil, ErrNotConnected
	}
	_ = d.machine.Transition(status.Pairing)
	return d.conn.PairQR(ctx)
}

// Prune drops messages older than the retention horizon from memory and
// schedules the matching storage compaction. Returns the number of
// in-memory messages removed.
func (d *Device) Prune() (int, error) {
	var removed int
	err := d.do(func() {
		cut := d.pipe.Cutoff()
		if cut <= 0 {
			return
		}
		removed = d.store.Prune(cut)
		d.storage.Compact(cut)
	})
	return removed, err
}

// ResetCache drops the in-memory state and rebuilds it from storage.
func (d *Device) ResetCache() error {
	var opErr error
	if err := d.do(func() {
		d.storage.Drain()
		d.store.Reset()
		opErr = d.hydrate()
	}); err != nil {
		return err
	}
	return opErr
}

// Backfill asks the storage backend to normalize previously persisted
// conversation rows against current alias evidence, then rebuilds the
// in-memory state from the result. Returns the number of merged rows.
func (d *Device) Backfill() (int64, error) {
	bf, ok := d.storage.(Backfiller)
	if !ok {
		return 0, ErrUnsupported
	}
	var (
		merged int64
		opErr  error
	)
	if err := d.do(func() {
		merged, opErr = bf.Backfill()
		if opErr != nil || merged == 0 {
			return
		}
		d.store.Reset()
		opErr = d.hydrate()
	}); err != nil {
		return 0, err
	}
	return merged, opErr
}

// Stop disconnects, stops the actor after the mailbox drains, and flushes
// pending writes. Idempotent.
func (d *Device) Stop() error {
	if d.conn != nil {
		d.conn.Stop()
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()
	<-d.done

	d.storage.Drain()
	return d.storage.Close()
}

// Destroy stops the device and removes its durable state and wire
// session.
func (d *Device) Destroy(ctx context.Context) error {
	err := d.Stop()
	if d.conn != nil {
		if derr := d.conn.Destroy(ctx); derr != nil && err == nil {
			err = derr
		}
	}
	if derr := d.storage.Destroy(); derr != nil && err == nil {
		err = derr
	}
	return err
}

func (d *Device) publish(kind string, payload any) {
	d.bus.Publish(bus.Event{Kind: kind, Device: d.ID, Payload: payload})
}
