package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatsim/internal/bus"
	"chatsim/internal/store"
	"chatsim/internal/wire"
	"go.uber.org/zap"
)

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testBroker(t *testing.T, db *store.DB) (*Broker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	return New(db, b, zap.NewNop(), 10*time.Millisecond, 5*time.Millisecond), b
}

func seedChat(t *testing.T, db *store.DB, id string) {
	t.Helper()
	if err := db.InsertChat(context.Background(), &store.Chat{ID: id, Title: "chat " + id}); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
}

func TestTickPersistsAndPublishes(t *testing.T) {
	db := testStore(t)
	seedChat(t, db, "c1")
	br, b := testBroker(t, db)

	events, unsub := b.Subscribe("sync.", 8)
	defer unsub()

	if err := br.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	select {
	case evt := <-events:
		wireEvt, ok := evt.Payload.(wire.Event)
		if !ok {
			t.Fatalf("payload is %T, want wire.Event", evt.Payload)
		}
		if wireEvt.Kind != wire.KindNewMessage {
			t.Fatalf("kind = %q, want %q", wireEvt.Kind, wire.KindNewMessage)
		}
		if wireEvt.Message == nil || wireEvt.Message.ChatID != "c1" {
			t.Fatalf("message = %+v, want chat c1", wireEvt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	n, err := db.MessageCount(context.Background(), "c1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("message count = %d, want 1", n)
	}

	chat, err := db.GetChat(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", chat.UnreadCount)
	}
}

func TestTickWhilePausedIsNoOp(t *testing.T) {
	db := testStore(t)
	seedChat(t, db, "c1")
	br, b := testBroker(t, db)

	events, unsub := b.Subscribe("sync.", 8)
	defer unsub()

	br.Pause()
	if !br.Paused() {
		t.Fatal("broker should report paused")
	}
	if err := br.Tick(context.Background()); err != nil {
		t.Fatalf("paused tick: %v", err)
	}

	n, err := db.MessageCount(context.Background(), "c1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("paused tick persisted %d messages", n)
	}
	select {
	case evt := <-events:
		t.Fatalf("paused tick published %v", evt.Kind)
	default:
	}

	br.Resume()
	if br.Paused() {
		t.Fatal("broker should report resumed")
	}
	if err := br.Tick(context.Background()); err != nil {
		t.Fatalf("resumed tick: %v", err)
	}
	n, _ = db.MessageCount(context.Background(), "c1")
	if n != 1 {
		t.Fatalf("resumed tick persisted %d messages, want 1", n)
	}
}

func TestTickEmptyStoreSkips(t *testing.T) {
	db := testStore(t)
	br, b := testBroker(t, db)

	events, unsub := b.Subscribe("sync.", 8)
	defer unsub()

	if err := br.Tick(context.Background()); err != nil {
		t.Fatalf("empty tick should be a no-op, got %v", err)
	}
	select {
	case evt := <-events:
		t.Fatalf("empty tick published %v", evt.Kind)
	default:
	}
}

func TestTickReportsStoreFailure(t *testing.T) {
	db := testStore(t)
	seedChat(t, db, "c1")
	br, _ := testBroker(t, db)

	db.Close()
	if err := br.Tick(context.Background()); err == nil {
		t.Fatal("tick on a closed store should fail")
	}
}

func TestStartEmitsOnInterval(t *testing.T) {
	db := testStore(t)
	seedChat(t, db, "c1")
	br, b := testBroker(t, db)

	events, unsub := b.Subscribe("sync.", 32)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	br.Start(ctx)
	defer br.Stop()

	deadline := time.After(2 * time.Second)
	for got := 0; got < 3; {
		select {
		case <-events:
			got++
		case <-deadline:
			t.Fatalf("only %d events before deadline, want 3", got)
		}
	}
}

func TestStopHaltsLoop(t *testing.T) {
	db := testStore(t)
	seedChat(t, db, "c1")
	br, b := testBroker(t, db)

	events, unsub := b.Subscribe("sync.", 32)
	defer unsub()

	br.Start(context.Background())

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never emitted")
	}

	br.Stop()
	// Drain anything in flight, then the stream must go quiet.
	time.Sleep(50 * time.Millisecond)
	for drained := false; !drained; {
		select {
		case <-events:
		default:
			drained = true
		}
	}
	select {
	case evt := <-events:
		t.Fatalf("event %v after Stop", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestErrNoChatsIsNotAnError(t *testing.T) {
	db := testStore(t)
	_, err := db.RandomChatID(context.Background())
	if !errors.Is(err, store.ErrNoChats) {
		t.Fatalf("err = %v, want ErrNoChats", err)
	}
}
