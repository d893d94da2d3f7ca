package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/ingest"
	"github.com/wapanel/wapanel/internal/persist"
	"github.com/wapanel/wapanel/internal/status"
)

const phoneX = "5511999@s.whatsapp.net"

// fakeConn is a connector test double.
type fakeConn struct {
	started   bool
	destroyed bool
	sent      []string
	msgID     string
	subject   string
	photoRef  string
	fetched   chan string
}

func (f *fakeConn) Start(ctx context.Context, deliver func(ingest.Event)) error {
	f.started = true
	return nil
}

func (f *fakeConn) SendText(ctx context.Context, chatID, text string) (string, error) {
	f.sent = append(f.sent, text)
	return f.msgID, nil
}

func (f *fakeConn) SendMedia(ctx context.Context, chatID, path, mime, caption string) (string, error) {
	return f.msgID, nil
}

func (f *fakeConn) FetchGroupSubject(ctx context.Context, chatID string) (string, error) {
	if f.fetched != nil {
		f.fetched <- "subject:" + chatID
	}
	return f.subject, nil
}

func (f *fakeConn) FetchProfilePhoto(ctx context.Context, chatID string) (string, error) {
	if f.fetched != nil {
		f.fetched <- "photo:" + chatID
	}
	return f.photoRef, nil
}

func (f *fakeConn) PairQR(ctx context.Context) (<-chan PairEvent, error) {
	ch := make(chan PairEvent)
	close(ch)
	return ch, nil
}

func (f *fakeConn) Stop() {}

func (f *fakeConn) Destroy(ctx context.Context) error {
	f.destroyed = true
	return nil
}

func openLog(t *testing.T, dir string) *persist.FileStore {
	t.Helper()
	st, err := persist.OpenFileStore(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func newDevice(t *testing.T, st Storage, conn Connector) *Device {
	t.Helper()
	d, err := New("dev1", st, conn, bus.New(), 0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// settle flushes the mailbox by running a no-op query behind prior tasks.
func settle(t *testing.T, d *Device) {
	t.Helper()
	if _, err := d.Conversations(); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	d := newDevice(t, openLog(t, dir), nil)
	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "m1", Type: ingest.TypeText, Body: "oi", Timestamp: 1000})
	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "m2", Type: ingest.TypeText, Body: "tudo bem?", Timestamp: 2000})
	settle(t, d)
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	d2 := newDevice(t, openLog(t, dir), nil)
	defer func() { _ = d2.Stop() }()

	convos, err := d2.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convos) != 1 || convos[0].Unread != 2 {
		t.Fatalf("conversations = %+v", convos)
	}
	msgs, err := d2.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestMarkReadAndRenameSurviveRestart(t *testing.T) {
	dir := t.TempDir()

	d := newDevice(t, openLog(t, dir), nil)
	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "m1", Type: ingest.TypeText, Body: "oi", Timestamp: 1000})
	settle(t, d)
	if err := d.MarkRead(phoneX); err != nil {
		t.Fatal(err)
	}
	if err := d.Rename(phoneX, "Cliente VIP"); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	d2 := newDevice(t, openLog(t, dir), nil)
	defer func() { _ = d2.Stop() }()

	convos, err := d2.Conversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convos) != 1 {
		t.Fatalf("conversations = %+v", convos)
	}
	if convos[0].Unread != 0 {
		t.Errorf("Unread = %d, want 0", convos[0].Unread)
	}
	if convos[0].Name != "Cliente VIP" {
		t.Errorf("Name = %q, want %q", convos[0].Name, "Cliente VIP")
	}
}

func TestMarkReadUnknownConversation(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	if err := d.MarkRead("nobody@s.whatsapp.net"); !errors.Is(err, convo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSendTextAttributedToPanel(t *testing.T) {
	conn := &fakeConn{msgID: "srv1"}
	d := newDevice(t, openLog(t, t.TempDir()), conn)
	defer func() { _ = d.Stop() }()

	if _, err := d.SendText(context.Background(), phoneX, "hola"); err != nil {
		t.Fatal(err)
	}
	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "srv1", FromMe: true, Type: ingest.TypeText, Body: "hola", Timestamp: 1000})
	settle(t, d)

	msgs, err := d.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Origin != convo.OriginPanel {
		t.Fatalf("messages = %+v, want one panel-originated", msgs)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("connector sent %d messages, want 1", len(conn.sent))
	}
}

func TestSendTextWithoutConnector(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	if _, err := d.SendText(context.Background(), phoneX, "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnStateDrivesStatus(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	d.Deliver(ingest.ConnState{State: ingest.StateConnecting})
	d.Deliver(ingest.ConnState{State: ingest.StateConnected})
	d.Deliver(ingest.ConnState{State: ingest.StateReady})
	settle(t, d)

	if got := d.Status(); got != status.Ready {
		t.Fatalf("Status() = %v, want Ready", got)
	}
}

func TestStoppedDeviceRejectsOperations(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Conversations(); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	// Late events are dropped silently.
	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "late", Type: ingest.TypeText, Timestamp: 1})

	// Stop is idempotent.
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestBackfillUnsupportedOnLogStorage(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	if _, err := d.Backfill(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestResetCacheRebuildsFromStorage(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	d.Deliver(ingest.Message{ChatID: phoneX, MsgID: "m1", Type: ingest.TypeText, Body: "oi", Timestamp: 1000})
	settle(t, d)

	if err := d.ResetCache(); err != nil {
		t.Fatal(err)
	}
	msgs, err := d.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages after reset = %+v", msgs)
	}
}

func TestNewChatFetchesSubjectAndPhoto(t *testing.T) {
	conn := &fakeConn{subject: "Projeto Alpha", photoRef: "https://pps.example/g1.jpg"}
	d := newDevice(t, openLog(t, t.TempDir()), conn)
	defer func() { _ = d.Stop() }()

	group := "120363099@g.us"
	d.Deliver(ingest.Message{ChatID: group, MsgID: "g1", Type: ingest.TypeText, Body: "bom dia", Timestamp: 1000})

	// The lookups run off the actor and come back as a metadata event.
	deadline := time.Now().Add(2 * time.Second)
	for {
		convos, err := d.Conversations()
		if err != nil {
			t.Fatal(err)
		}
		if len(convos) == 1 && convos[0].Name == "Projeto Alpha" && convos[0].PhotoRef == "https://pps.example/g1.jpg" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("group metadata never arrived: %+v", convos)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMetadataFetchedOncePerChat(t *testing.T) {
	conn := &fakeConn{fetched: make(chan string, 8)}
	d := newDevice(t, openLog(t, t.TempDir()), conn)
	defer func() { _ = d.Stop() }()

	group := "120363099@g.us"
	d.Deliver(ingest.Message{ChatID: group, MsgID: "g1", Type: ingest.TypeText, Body: "oi", Timestamp: 1000})
	for i := 0; i < 2; i++ {
		select {
		case <-conn.fetched:
		case <-time.After(2 * time.Second):
			t.Fatal("metadata lookup never issued")
		}
	}

	d.Deliver(ingest.Message{ChatID: group, MsgID: "g2", Type: ingest.TypeText, Body: "oi de novo", Timestamp: 2000})
	settle(t, d)
	time.Sleep(50 * time.Millisecond)
	select {
	case call := <-conn.fetched:
		t.Fatalf("known chat refetched: %s", call)
	default:
	}
}

func TestSearchResolvesFilterWithoutFullText(t *testing.T) {
	d := newDevice(t, openLog(t, t.TempDir()), nil)
	defer func() { _ = d.Stop() }()

	suffixed := "5511999:12@s.whatsapp.net"
	d.Deliver(ingest.Message{ChatID: suffixed, MsgID: "m1", Type: ingest.TypeText, Body: "relatorio mensal", Timestamp: 1000})
	settle(t, d)

	hits, err := d.Search("relatorio", suffixed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Message.ConvoID != phoneX {
		t.Fatalf("hit convo = %s, want %s", hits[0].Message.ConvoID, phoneX)
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"main", "sales-01", "a_b", "x"} {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "UPPER", "has space", "dot.dot", "no/slash"} {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) = nil, want error", id)
		}
	}
}
