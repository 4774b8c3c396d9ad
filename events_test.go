package spacetraveling

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func eventMsg(t *testing.T, ev RevalidateEvent) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return &nats.Msg{Subject: DefaultRevalidateSubject, Data: data}
}

func TestRevalidatorHandle(t *testing.T) {
	r := NewRevalidator(nil, "", nil)
	if r.subject != DefaultRevalidateSubject {
		t.Errorf("subject = %q", r.subject)
	}

	var got []RevalidateEvent
	fn := func(ev RevalidateEvent) { got = append(got, ev) }

	r.handle(eventMsg(t, RevalidateEvent{Origin: "other", Reason: "webhook", At: time.Now()}), fn)
	r.handle(eventMsg(t, RevalidateEvent{Origin: r.origin, Reason: "webhook"}), fn)
	r.handle(&nats.Msg{Data: []byte("{not json")}, fn)

	if len(got) != 1 || got[0].Origin != "other" || got[0].Reason != "webhook" {
		t.Errorf("delivered events = %+v, want only the foreign one", got)
	}
}

func TestRevalidatorCloseWithoutSubscription(t *testing.T) {
	if err := NewRevalidator(nil, "custom", nil).Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

// TestRevalidatorRoundTrip needs a NATS server at NATS_URL.
func TestRevalidatorRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Skipf("nats not reachable: %v", err)
	}
	defer nc.Close()

	subject := "spacetraveling.test." + time.Now().Format("150405.000000")
	sender := NewRevalidator(nc, subject, nil)
	receiver := NewRevalidator(nc, subject, nil)

	got := make(chan RevalidateEvent, 2)
	for _, r := range []*Revalidator{sender, receiver} {
		if err := r.Subscribe(func(ev RevalidateEvent) { got <- ev }); err != nil {
			t.Fatal(err)
		}
		defer r.Close()
	}
	if err := sender.Publish(context.Background(), "webhook"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-got:
		if ev.Origin != sender.origin {
			t.Errorf("origin = %q, want the sender", ev.Origin)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not get the event")
	}
	select {
	case ev := <-got:
		t.Errorf("sender received its own event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRevalidationReachesOtherInstances(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	if err != nil {
		t.Skipf("nats not reachable: %v", err)
	}
	defer nc.Close()

	subject := "spacetraveling.test.app." + time.Now().Format("150405.000000")
	src := threePostSource()
	a := setupTestApp(t, src, WithRevalidator(NewRevalidator(nc, subject, nil)))
	other := NewRevalidator(nc, subject, nil)

	if _, err := a.Cache.FirstPage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := other.Publish(context.Background(), "remote"); err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, _ = a.Cache.FirstPage(context.Background())
		if src.pageCalls.Load() >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("cache was not invalidated by the remote event")
}
