package dnsserver

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testMessage(id string) *Message {
	return &Message{
		ID:       id,
		Chunks:   map[string]string{"c-0-" + id: "AAAA", "c-1-" + id: "BBBB"},
		Manifest: "2:ff:text",
	}
}

func TestMemoryStorageLifecycle(t *testing.T) {
	ms := NewMemoryStorage()

	if err := ms.StoreMessage(testMessage("aa")); err != nil {
		t.Fatal(err)
	}
	if err := ms.StoreMessage(testMessage("aa")); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate store: err = %v", err)
	}

	msg, err := ms.GetMessage("aa")
	if err != nil {
		t.Fatal(err)
	}
	if msg.State != StateNew || msg.TotalChunks != 2 || msg.CreatedAt.IsZero() {
		t.Errorf("stored message = %+v", msg)
	}

	if v, err := ms.GetChunk("aa", "c-1-aa"); err != nil || v != "BBBB" {
		t.Errorf("GetChunk = (%q, %v)", v, err)
	}
	if _, err := ms.GetChunk("aa", "c-7-aa"); err == nil {
		t.Error("missing chunk found")
	}
	if _, err := ms.GetMessage("zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage(zz) err = %v", err)
	}

	newMsgs, _ := ms.GetNewMessages("alice")
	if len(newMsgs) != 1 {
		t.Fatalf("new messages = %d", len(newMsgs))
	}

	if err := ms.MarkAsDelivered("aa", "alice"); err != nil {
		t.Fatal(err)
	}
	if newMsgs, _ := ms.GetNewMessages("alice"); len(newMsgs) != 0 {
		t.Errorf("delivered message still new for alice")
	}
	msg, _ = ms.GetMessage("aa")
	if msg.State != StateDelivered || len(msg.Consumers) != 1 {
		t.Errorf("after delivery = %+v", msg)
	}

	if err := ms.MarkAsConsumed("aa", "alice"); err != nil {
		t.Fatal(err)
	}
	if msg, _ := ms.GetMessage("aa"); msg.State != StateConsumed {
		t.Errorf("state = %v", msg.State)
	}

	stats := ms.GetStats()
	if stats.TotalMessages != 1 || stats.Consumed != 1 || stats.TotalChunks != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	ms := NewMemoryStorage()
	orig := testMessage("bb")
	if err := ms.StoreMessage(orig); err != nil {
		t.Fatal(err)
	}
	orig.Chunks["c-0-bb"] = "changed"

	msg, _ := ms.GetMessage("bb")
	msg.State = StateConsumed
	if again, _ := ms.GetMessage("bb"); again.State != StateNew {
		t.Error("caller mutation leaked into store")
	}
	if v, _ := ms.GetChunk("bb", "c-0-bb"); v != "AAAA" {
		t.Errorf("chunk = %q after caller edit", v)
	}
}

func TestCleanExpired(t *testing.T) {
	ms := NewMemoryStorage()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ms.now = func() time.Time { return now }

	ms.StoreMessage(testMessage("old"))
	now = now.Add(2 * time.Hour)
	ms.StoreMessage(testMessage("new"))

	if n := ms.CleanExpired(time.Hour); n != 1 {
		t.Fatalf("first pass changed %d", n)
	}
	msg, err := ms.GetMessage("old")
	if err != nil || msg.State != StateExpired {
		t.Fatalf("old message = (%+v, %v)", msg, err)
	}
	if _, err := ms.GetChunk("old", "c-0-old"); !errors.Is(err, ErrExpired) {
		t.Errorf("expired chunk served: err = %v", err)
	}
	if ms.GetStats().Expired != 1 {
		t.Errorf("stats = %+v", ms.GetStats())
	}

	if n := ms.CleanExpired(time.Hour); n != 1 {
		t.Fatalf("second pass changed %d", n)
	}
	if _, err := ms.GetMessage("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old message not removed: %v", err)
	}
	if _, err := ms.GetMessage("new"); err != nil {
		t.Errorf("new message removed: %v", err)
	}
}

func TestFileStoragePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dns_data.json")

	fs, err := NewFileStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.StoreMessage(testMessage("cc")); err != nil {
		t.Fatal(err)
	}
	if err := fs.MarkAsDelivered("cc", "bob"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewFileStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := reloaded.GetMessage("cc")
	if err != nil {
		t.Fatal(err)
	}
	if msg.State != StateDelivered || len(msg.Consumers) != 1 || msg.Consumers[0].ClientID != "bob" {
		t.Errorf("reloaded = %+v", msg)
	}
	if v, err := reloaded.GetChunk("cc", "c-0-cc"); err != nil || v != "AAAA" {
		t.Errorf("GetChunk = (%q, %v)", v, err)
	}
	if newMsgs, _ := reloaded.GetNewMessages("bob"); len(newMsgs) != 0 {
		t.Error("client index not persisted")
	}
}

func TestQueueManager(t *testing.T) {
	qm := NewQueueManager(NewMemoryStorage())
	if err := qm.PublishMessage("dd", map[string]string{"c-0-dd": "X"}, "1:ff:text"); err != nil {
		t.Fatal(err)
	}

	got, err := qm.ConsumeMessages("carol")
	if err != nil || len(got) != 1 || got[0].ID != "dd" {
		t.Fatalf("ConsumeMessages = (%v, %v)", got, err)
	}
	if again, _ := qm.ConsumeMessages("carol"); len(again) != 0 {
		t.Error("message consumed twice")
	}

	status, _ := qm.GetMessageStatus("dd")
	if status != "delivered to 1 clients" {
		t.Errorf("status = %q", status)
	}
	if err := qm.AcknowledgeMessage("dd", "carol"); err != nil {
		t.Fatal(err)
	}
	if status, _ := qm.GetMessageStatus("dd"); status != "consumed" {
		t.Errorf("status = %q", status)
	}
}
