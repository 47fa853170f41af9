package hub

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/NikWasHere/magang-rspb-sub000/internal/events"
)

func TestBroadcastMatching(t *testing.T) {
	h := New(zap.NewNop())

	matched := &Client{ID: "a", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-1"}}
	other := &Client{ID: "b", Send: make(chan []byte, 1), Subscription: Subscription{DoctorID: "doc-2"}}
	all := &Client{ID: "c", Send: make(chan []byte, 1)}
	h.Register(matched)
	h.Register(other)
	h.Register(all)

	h.Publish(events.QueueEvent{
		Type:        events.TypeReservationConfirmed,
		DoctorID:    "doc-1",
		VisitDate:   "2025-03-10",
		QueueNumber: 1,
		OccurredAt:  time.Now().UTC(),
	})

	if len(matched.Send) != 1 {
		t.Fatal("subscribed client got no message")
	}
	if len(other.Send) != 0 {
		t.Fatal("other doctor's client got a message")
	}
	if len(all.Send) != 1 {
		t.Fatal("wildcard client got no message")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","doctor_id":"doc-1","visit_date":"2025-03-10"}`))
	if !ok {
		t.Fatal("valid subscribe rejected")
	}
	if msg.DoctorID != "doc-1" || msg.VisitDate != "2025-03-10" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, ok := ParseSubscribe([]byte(`{"action":"ping"}`)); ok {
		t.Fatal("unknown action accepted")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("invalid JSON accepted")
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New(zap.NewNop())
	client := &Client{ID: "a", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)
	if _, open := <-client.Send; open {
		t.Fatal("send channel still open after unregister")
	}
}
