package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/compose"
)

type fakeGateway struct {
	mu       sync.Mutex
	sends    []string
	failures map[string][]error
	inFlight int32
	maxSeen  int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failures: make(map[string][]error)}
}

func (g *fakeGateway) Send(ctx context.Context, recipient, content, key string) error {
	current := atomic.AddInt32(&g.inFlight, 1)
	for {
		seen := atomic.LoadInt32(&g.maxSeen)
		if current <= seen || atomic.CompareAndSwapInt32(&g.maxSeen, seen, current) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	defer atomic.AddInt32(&g.inFlight, -1)

	g.mu.Lock()
	defer g.mu.Unlock()
	if queue := g.failures[recipient]; len(queue) > 0 {
		err := queue[0]
		g.failures[recipient] = queue[1:]
		return err
	}
	g.sends = append(g.sends, recipient)
	return nil
}

func msgFor(recipient string) compose.Message {
	return compose.Message{
		Recipient:      compose.Recipient{ID: recipient},
		Sections:       []compose.Section{{Title: "Today's Rates", Body: "Mumbai Gold 24K Rs.15804/g"}},
		IdempotencyKey: "key-" + recipient,
	}
}

func testDispatcher(gateway Gateway) *Dispatcher {
	return New(gateway, Options{MaxInFlight: 2, MaxAttempts: 3, RetryBase: time.Millisecond}, zerolog.Nop())
}

func TestDispatchDelivers(t *testing.T) {
	gateway := newFakeGateway()
	d := testDispatcher(gateway)

	result := d.Dispatch(context.Background(), msgFor("u1"))
	if result.Status != Delivered || result.Attempts != 1 {
		t.Fatalf("expected first-attempt delivery, got %+v", result)
	}
}

func TestDispatchRetriesTransient(t *testing.T) {
	gateway := newFakeGateway()
	gateway.failures["u1"] = []error{
		fmt.Errorf("%w: throttled", ErrTransient),
		fmt.Errorf("%w: timeout", ErrTransient),
	}
	d := testDispatcher(gateway)

	result := d.Dispatch(context.Background(), msgFor("u1"))
	if result.Status != Delivered {
		t.Fatalf("transient failures within the attempt limit should recover, got %+v", result)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDispatchDefersAfterExhaustedRetries(t *testing.T) {
	gateway := newFakeGateway()
	gateway.failures["u1"] = []error{
		fmt.Errorf("%w: down", ErrTransient),
		fmt.Errorf("%w: down", ErrTransient),
		fmt.Errorf("%w: down", ErrTransient),
	}
	d := testDispatcher(gateway)

	result := d.Dispatch(context.Background(), msgFor("u1"))
	if result.Status != Deferred {
		t.Fatalf("expected deferred after exhausting attempts, got %+v", result)
	}
}

func TestDispatchPermanentNotRetried(t *testing.T) {
	gateway := newFakeGateway()
	gateway.failures["u1"] = []error{fmt.Errorf("%w: invalid recipient", ErrPermanent)}
	d := testDispatcher(gateway)

	result := d.Dispatch(context.Background(), msgFor("u1"))
	if result.Status != Failed {
		t.Fatalf("permanent failure should not be retried, got %+v", result)
	}
	if result.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", result.Attempts)
	}
	if !errors.Is(result.Err, ErrPermanent) {
		t.Fatalf("permanent error should be reported, got %v", result.Err)
	}
}

func TestDispatchAllBoundsConcurrency(t *testing.T) {
	gateway := newFakeGateway()
	d := testDispatcher(gateway)

	messages := make([]compose.Message, 8)
	for i := range messages {
		messages[i] = msgFor(fmt.Sprintf("u%d", i))
	}

	results := d.DispatchAll(context.Background(), messages)
	for _, r := range results {
		if r.Status != Delivered {
			t.Fatalf("all sends should deliver, got %+v", r)
		}
	}
	if max := atomic.LoadInt32(&gateway.maxSeen); max > 2 {
		t.Fatalf("in-flight sends exceeded the bound: %d", max)
	}
}

func TestDispatchAllIsolatesFailures(t *testing.T) {
	gateway := newFakeGateway()
	gateway.failures["u0"] = []error{fmt.Errorf("%w: invalid recipient", ErrPermanent)}
	d := testDispatcher(gateway)

	results := d.DispatchAll(context.Background(), []compose.Message{msgFor("u0"), msgFor("u1")})

	var failed, delivered int
	for _, r := range results {
		switch r.Status {
		case Failed:
			failed++
		case Delivered:
			delivered++
		}
	}
	if failed != 1 || delivered != 1 {
		t.Fatalf("one recipient's failure must not block another: %+v", results)
	}
}

func TestTelegramGatewaySend(t *testing.T) {
	received := make(map[string]string)
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		gotKey = r.Header.Get("X-Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	gateway := NewTelegramGateway("token", srv.URL, time.Second, zerolog.Nop())
	if err := gateway.Send(context.Background(), "chat42", "hello", "idem-1"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if received["chat_id"] != "chat42" || received["text"] != "hello" {
		t.Fatalf("unexpected payload %#v", received)
	}
	if gotKey != "idem-1" {
		t.Fatalf("idempotency key should travel with the request, got %q", gotKey)
	}
}

func TestTelegramGatewayClassifiesFailures(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	gateway := NewTelegramGateway("token", srv.URL, time.Second, zerolog.Nop())

	if err := gateway.Send(context.Background(), "chat", "x", ""); !errors.Is(err, ErrTransient) {
		t.Fatalf("429 should be transient, got %v", err)
	}

	status = http.StatusBadRequest
	if err := gateway.Send(context.Background(), "chat", "x", ""); !errors.Is(err, ErrPermanent) {
		t.Fatalf("400 should be permanent, got %v", err)
	}
}
