package persist

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/wapanel/wapanel/internal/convo"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := OpenFileStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rec(id string, ts int64, body string) Record {
	return Record{
		Kind:    RecordMessage,
		ConvoID: "chat@s.whatsapp.net",
		Message: convo.Message{ConvoID: "chat@s.whatsapp.net", MsgID: id, Timestamp: ts, Body: body, Origin: convo.OriginContact},
	}
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(16)
	defer q.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue(func() { order = append(order, i) })
	}
	q.Drain()

	if len(order) != 100 {
		t.Fatalf("ran %d jobs, want 100", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, jobs ran out of order", i, v)
		}
	}
}

func TestQueueCloseRejectsEnqueue(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	if q.Enqueue(func() {}) {
		t.Error("Enqueue after Close must return false")
	}
	// Close again is safe.
	q.Close()
}

func TestRecentIDsEviction(t *testing.T) {
	r := NewRecentIDs()
	r.cap = 3
	for i := 0; i < 5; i++ {
		r.Add(fmt.Sprintf("m%d", i))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	if r.Contains("m0") || r.Contains("m1") {
		t.Error("oldest IDs not evicted")
	}
	if !r.Contains("m4") {
		t.Error("newest ID missing")
	}
	r.Add("m4") // re-add is a no-op
	if r.Len() != 3 {
		t.Errorf("len = %d after re-add, want 3", r.Len())
	}
	if r.Contains("") {
		t.Error("empty ID must never be contained")
	}
}

func TestAppendAndHydrate(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	s.Append(rec("m1", 100, "one"))
	s.Append(rec("m2", 200, "two"))
	if !s.Seen("m1") {
		t.Error("appended ID not in recent window")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileStore(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = reopened.Close() }()

	var got []Record
	if err := reopened.Hydrate(0, func(r Record) { got = append(got, r) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("hydrated %d records, want 2", len(got))
	}
	if got[0].Message.MsgID != "m1" || got[1].Message.MsgID != "m2" {
		t.Errorf("hydration order wrong: %v", got)
	}
	if !reopened.Seen("m2") {
		t.Error("hydration must refill the recent window")
	}
}

func TestHydrateSkipsOlderThanCutoff(t *testing.T) {
	dir := t.TempDir()
	s, _ := OpenFileStore(dir, zap.NewNop())
	s.Append(rec("old", 100, "old"))
	s.Append(rec("new", 9000, "new"))
	_ = s.Close()

	reopened, _ := OpenFileStore(dir, zap.NewNop())
	defer func() { _ = reopened.Close() }()

	var got []Record
	if err := reopened.Hydrate(1000, func(r Record) { got = append(got, r) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message.MsgID != "new" {
		t.Errorf("got %v, want only the new record", got)
	}
}

func TestCompactDropsOldRecords(t *testing.T) {
	s := testStore(t)
	s.Append(rec("old", 100, "old"))
	s.Append(rec("new", 9000, "new"))
	s.Compact(1000)
	// An append racing the compaction lands after it, in order.
	s.Append(rec("after", 9500, "after"))
	s.Drain()

	var got []Record
	if err := s.Hydrate(0, func(r Record) { got = append(got, r) }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records after compaction, want 2", len(got))
	}
	if got[0].Message.MsgID != "new" || got[1].Message.MsgID != "after" {
		t.Errorf("records = %v", got)
	}
}

func TestMetaRecordsSurviveCutoffAndCompaction(t *testing.T) {
	s := testStore(t)
	zero := 0
	s.Append(Record{Kind: RecordMeta, ConvoID: "chat@s.whatsapp.net", Name: "Custom", Unread: &zero})
	s.Append(rec("m1", 9000, "hi"))
	s.Compact(1000)
	s.Drain()

	var kinds []string
	if err := s.Hydrate(1000, func(r Record) { kinds = append(kinds, r.Kind) }); err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != RecordMeta || kinds[1] != RecordMessage {
		t.Errorf("kinds = %v, want [meta message]", kinds)
	}
}

func TestAliasRoundTrip(t *testing.T) {
	s := testStore(t)

	aliases, links, err := s.LoadAliases()
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 0 || len(links) != 0 {
		t.Error("fresh store must have empty alias tables")
	}

	s.SaveAliases(
		map[string]string{"a@lid": "1@s.whatsapp.net"},
		map[string]string{"a@lid": "1@s.whatsapp.net"},
	)
	s.Drain()

	aliases, links, err = s.LoadAliases()
	if err != nil {
		t.Fatal(err)
	}
	if aliases["a@lid"] != "1@s.whatsapp.net" {
		t.Errorf("aliases = %v", aliases)
	}
	if links["a@lid"] != "1@s.whatsapp.net" {
		t.Errorf("links = %v", links)
	}
}

func TestDrainWaitsForWrites(t *testing.T) {
	s := testStore(t)
	var wrote atomic.Bool
	s.queue.Enqueue(func() { wrote.Store(true) })
	s.Drain()
	if !wrote.Load() {
		t.Error("Drain returned before enqueued job ran")
	}
}
