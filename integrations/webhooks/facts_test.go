package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stakepool/core/events"
	"stakepool/core/types"
)

type recorder struct {
	mu         sync.Mutex
	bodies     [][]byte
	signatures []string
	types      []string
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.signatures = append(r.signatures, req.Header.Get(HeaderSignature))
	r.types = append(r.types, req.Header.Get(HeaderEvent))
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func TestDispatcherSignsPayload(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer server.Close()
	secret := []byte("secret")
	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	fact := events.Fact{Sequence: 3, Type: events.TypeStaked, Hash: "abcdef0123456789"}
	if err := dispatcher.Enqueue(context.Background(), fact); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return rec.count() == 1 }, time.Second)
	if rec.count() != 1 {
		t.Fatalf("expected one delivery")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.signatures[0] != Sign(secret, rec.bodies[0]) {
		t.Fatalf("signature mismatch: %s", rec.signatures[0])
	}
	if rec.types[0] != events.TypeStaked {
		t.Fatalf("unexpected event header %s", rec.types[0])
	}
	var payload FactPayload
	if err := json.Unmarshal(rec.bodies[0], &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Fact.Sequence != 3 || payload.DeliveryID != "fact-3-abcdef012345" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(context.Background(), events.Fact{Sequence: 1, Type: events.TypeRewardPaid}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", atomic.LoadInt32(&attempts))
	}
}

func TestRelayFiltersTypes(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithTypes(events.TypeRewardPaid))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	log := events.NewLog(16)
	log.Append(1, &types.Event{Type: events.TypeStaked})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatcher.Relay(ctx, log) }()

	// Relay starts from the tip; wait for the subscription before appending.
	time.Sleep(50 * time.Millisecond)
	log.Append(2, &types.Event{Type: events.TypeStaked})
	log.Append(3, &types.Event{Type: events.TypeRewardPaid})

	waitFor(func() bool { return rec.count() == 1 }, time.Second)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("relay: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected one delivery, got %d", rec.count())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.types[0] != events.TypeRewardPaid {
		t.Fatalf("unexpected type %s", rec.types[0])
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("x")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
