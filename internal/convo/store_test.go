package convo

import (
	"testing"
)

const (
	phoneX    = "5511999@s.whatsapp.net"
	phoneXDev = "5511999:12@s.whatsapp.net"
	linkedY   = "184729@lid"
	groupG    = "12036-63@g.us"
)

func msg(id, convoID string, ts int64, body string) Message {
	return Message{ConvoID: convoID, MsgID: id, Timestamp: ts, Body: body, Origin: OriginContact}
}

func TestResolveCanonicalIsIdempotent(t *testing.T) {
	s := NewStore()
	if got := s.Resolve(phoneX); got != phoneX {
		t.Errorf("Resolve(%q) = %q, want itself", phoneX, got)
	}
	if got := s.Resolve(s.Resolve(phoneXDev)); got != phoneX {
		t.Errorf("double resolve = %q, want %q", got, phoneX)
	}
}

func TestResolveGroupNeverMerges(t *testing.T) {
	s := NewStore()
	s.AssertLink(linkedY, groupG) // bogus assertion must not affect groups
	if got := s.Resolve(groupG); got != groupG {
		t.Errorf("Resolve(group) = %q, want %q", got, groupG)
	}
}

func TestResolveLinkedWithoutEvidence(t *testing.T) {
	s := NewStore()
	if got := s.Resolve(linkedY); got != linkedY {
		t.Errorf("Resolve(linked, no mapping) = %q, want itself (never guessed)", got)
	}
}

func TestResolveLinkedWithEvidenceMerges(t *testing.T) {
	s := NewStore()
	s.Apply(msg("m1", linkedY, 100, "from lid"))
	s.Apply(msg("m2", phoneX, 200, "from pn"))
	s.AssertLink(linkedY, phoneX)

	if got := s.Resolve(linkedY); got != phoneX {
		t.Fatalf("Resolve(linked) = %q, want %q", got, phoneX)
	}
	msgs, err := s.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after merge, want 2", len(msgs))
	}
	if msgs[0].MsgID != "m1" || msgs[1].MsgID != "m2" {
		t.Errorf("messages not ordered by timestamp: %v", msgs)
	}
}

// Three identifier forms of the same contact collapse into the unsuffixed
// phone conversation with all messages present, ordered by timestamp.
func TestThreeWayIdentifierCollapse(t *testing.T) {
	s := NewStore()
	s.AssertLink(linkedY, phoneX)

	for _, m := range []Message{
		msg("a", phoneXDev, 300, "suffixed"),
		msg("b", phoneX, 100, "plain"),
		msg("c", linkedY, 200, "linked"),
	} {
		canonical := s.Resolve(m.ConvoID)
		m.ConvoID = canonical
		s.Apply(m)
	}
	// A final resolve folds anything left behind.
	s.Resolve(phoneX)

	convos := s.List()
	if len(convos) != 1 {
		t.Fatalf("got %d conversations, want 1: %+v", len(convos), convos)
	}
	if convos[0].ID != phoneX {
		t.Errorf("canonical = %q, want %q", convos[0].ID, phoneX)
	}
	msgs, err := s.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"b", "c", "a"} {
		if msgs[i].MsgID != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].MsgID, want)
		}
	}
}

func TestMergeChainEqualsDirect(t *testing.T) {
	build := func() *Store {
		s := NewStore()
		s.Apply(msg("m1", "a@s.whatsapp.net", 100, "one"))
		s.Apply(msg("m2", "b@s.whatsapp.net", 200, "two"))
		s.Apply(msg("m3", "c@s.whatsapp.net", 300, "three"))
		return s
	}

	chained := build()
	chained.Merge("a@s.whatsapp.net", "b@s.whatsapp.net")
	chained.Merge("b@s.whatsapp.net", "c@s.whatsapp.net")

	direct := build()
	direct.Merge("a@s.whatsapp.net", "c@s.whatsapp.net")
	direct.Merge("b@s.whatsapp.net", "c@s.whatsapp.net")

	for _, s := range []*Store{chained, direct} {
		if got := s.Resolve("a@s.whatsapp.net"); got != "c@s.whatsapp.net" {
			t.Errorf("Resolve(a) = %q, want c", got)
		}
		msgs, err := s.Messages("c@s.whatsapp.net", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 3 {
			t.Errorf("got %d messages, want 3", len(msgs))
		}
	}

	cm, _ := chained.Messages("c@s.whatsapp.net", 0)
	dm, _ := direct.Messages("c@s.whatsapp.net", 0)
	for i := range cm {
		if cm[i].MsgID != dm[i].MsgID {
			t.Errorf("order differs at %d: %q vs %q", i, cm[i].MsgID, dm[i].MsgID)
		}
	}
}

func TestMergeCombinesMetadata(t *testing.T) {
	s := NewStore()
	s.Upsert("a@s.whatsapp.net", "Alice", false)
	s.Apply(msg("m1", "a@s.whatsapp.net", 500, "hi"))
	s.Upsert("b@s.whatsapp.net", "", false)
	s.Apply(msg("m2", "b@s.whatsapp.net", 100, "old"))

	s.Merge("a@s.whatsapp.net", "b@s.whatsapp.net")

	convos := s.List()
	if len(convos) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convos))
	}
	c := convos[0]
	if c.ID != "b@s.whatsapp.net" {
		t.Errorf("id = %q, want winner", c.ID)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice (loser fills empty winner name)", c.Name)
	}
	if c.LastActivity != 500 {
		t.Errorf("last activity = %d, want max 500", c.LastActivity)
	}
	if c.Unread != 2 {
		t.Errorf("unread = %d, want summed 2", c.Unread)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := NewStore()
	s.Apply(msg("m1", "a@s.whatsapp.net", 100, "one"))
	s.Merge("a@s.whatsapp.net", "b@s.whatsapp.net")
	s.Merge("a@s.whatsapp.net", "b@s.whatsapp.net")
	s.Merge("b@s.whatsapp.net", "b@s.whatsapp.net")

	msgs, err := s.Messages("b@s.whatsapp.net", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestApplyDuplicateDropped(t *testing.T) {
	s := NewStore()
	if !s.Apply(msg("m1", phoneX, 100, "hello")) {
		t.Fatal("first apply rejected")
	}
	if s.Apply(msg("m1", phoneX, 100, "hello again")) {
		t.Error("duplicate message ID accepted")
	}
	msgs, _ := s.Messages(phoneX, 0)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestApplyEmptyIDNeverDeduped(t *testing.T) {
	s := NewStore()
	s.Apply(msg("", phoneX, 100, "a"))
	s.Apply(msg("", phoneX, 100, "b"))
	msgs, _ := s.Messages(phoneX, 0)
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2 (empty IDs are not deduped)", len(msgs))
	}
}

func TestPrune(t *testing.T) {
	s := NewStore()
	s.Apply(msg("old", phoneX, 100, "old"))
	s.Apply(msg("new", phoneX, 5000, "new"))
	s.Apply(msg("gone", linkedY, 50, "gone"))

	removed := s.Prune(1000)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	msgs, err := s.Messages(phoneX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "new" {
		t.Errorf("surviving messages = %v, want only new", msgs)
	}

	// Emptied conversation drops from the message map but keeps metadata.
	if _, ok := s.messages[linkedY]; ok {
		t.Error("emptied message list not dropped")
	}
	if _, ok := s.conversations[linkedY]; !ok {
		t.Error("conversation metadata must survive pruning")
	}
}

func TestReadOps(t *testing.T) {
	s := NewStore()
	s.Apply(Message{ConvoID: phoneX, MsgID: "m1", Timestamp: 100, Body: "hola mundo"})

	if err := s.MarkRead(phoneXDev); err != nil {
		t.Errorf("MarkRead via alias failed: %v", err)
	}
	if err := s.MarkRead("missing@s.whatsapp.net"); err != ErrNotFound {
		t.Errorf("MarkRead(missing) = %v, want ErrNotFound", err)
	}
	if err := s.Rename(phoneX, "Custom"); err != nil {
		t.Fatal(err)
	}
	if s.List()[0].Name != "Custom" {
		t.Error("rename not applied")
	}
	if hits := s.Search("HOLA", "", 10); len(hits) != 1 {
		t.Errorf("search hits = %d, want 1", len(hits))
	}
	if hits := s.Search("hola", "other@s.whatsapp.net", 10); len(hits) != 0 {
		t.Errorf("filtered search hits = %d, want 0", len(hits))
	}

	s.Reset()
	if len(s.List()) != 0 || s.MessageCount() != 0 {
		t.Error("reset left state behind")
	}
}

func TestContactAndPhotoMigrateOnMerge(t *testing.T) {
	s := NewStore()
	s.SetContactName("a@s.whatsapp.net", "Alice")
	s.SetPhoto("a@s.whatsapp.net", "photos/a.jpg")
	s.SetContactName("b@s.whatsapp.net", "Bee")
	s.Apply(msg("m1", "a@s.whatsapp.net", 100, "x"))

	s.Merge("a@s.whatsapp.net", "b@s.whatsapp.net")

	if got := s.ContactName("b@s.whatsapp.net"); got != "Bee" {
		t.Errorf("populated winner name overwritten: %q", got)
	}
	if got := s.photos["b@s.whatsapp.net"]; got != "photos/a.jpg" {
		t.Errorf("photo ref did not migrate: %q", got)
	}
}
