package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
)

func fastOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BufferSize:      8,
		Workers:         1,
		MaxTries:        3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		SendTimeout:     time.Second,
	}
}

func closeOutbox(t *testing.T, o *Outbox) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		t.Fatalf("close outbox: %v", err)
	}
}

func TestOutboxDeliversAndAssignsID(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []Message
		done = make(chan struct{})
	)
	sender := SenderFunc(func(_ context.Context, msg Message) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		close(done)
		return nil
	})
	o := NewOutbox(sender, fastOutboxConfig(), nil)

	if err := o.Enqueue(Message{Kind: KindPasswordReset, Address: "a@example.com", Token: "tok"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	closeOutbox(t, o)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected delivered messages %+v", got)
	}
	if s := o.Stats(); s.Sent != 1 || s.Enqueued != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestOutboxRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	sender := SenderFunc(func(context.Context, Message) error {
		if calls.Add(1) < 3 {
			return errors.New("smtp hiccup")
		}
		return nil
	})
	o := NewOutbox(sender, fastOutboxConfig(), nil)
	if err := o.Enqueue(Message{Kind: KindPasswordReset, Address: "a@example.com"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	closeOutbox(t, o)

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if s := o.Stats(); s.Sent != 1 || s.Failed != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestOutboxGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	sender := SenderFunc(func(context.Context, Message) error {
		calls.Add(1)
		return errors.New("down")
	})
	o := NewOutbox(sender, fastOutboxConfig(), nil)
	_ = o.Enqueue(Message{Kind: KindPasswordReset, Address: "a@example.com"})
	closeOutbox(t, o)

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if s := o.Stats(); s.Failed != 1 || s.Sent != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestOutboxFullAndClosed(t *testing.T) {
	release := make(chan struct{})
	sender := SenderFunc(func(context.Context, Message) error {
		<-release
		return nil
	})
	cfg := fastOutboxConfig()
	cfg.BufferSize = 1
	o := NewOutbox(sender, cfg, nil)

	var full bool
	for i := 0; i < 5; i++ {
		if err := o.Enqueue(Message{Kind: KindPasswordReset}); errors.Is(err, ErrOutboxFull) {
			full = true
		}
		time.Sleep(time.Millisecond)
	}
	if !full {
		t.Fatal("expected ErrOutboxFull with a blocked sender")
	}
	close(release)
	closeOutbox(t, o)

	if err := o.Enqueue(Message{Kind: KindPasswordReset}); !errors.Is(err, ErrOutboxClosed) {
		t.Fatalf("expected ErrOutboxClosed, got %v", err)
	}
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSenderPublishes(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSender(w, KafkaConfig{Topic: "auth.notifications"}, nil)

	msg := Message{ID: "m1", Kind: KindPasswordReset, Address: "a@example.com", Token: "secret-token"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one kafka message, got %d", len(w.msgs))
	}
	km := w.msgs[0]
	if km.Topic != "auth.notifications" || string(km.Key) != "a@example.com" {
		t.Fatalf("unexpected topic/key %q/%q", km.Topic, km.Key)
	}
	var decoded Message
	if err := json.Unmarshal(km.Value, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Token != "secret-token" || decoded.Kind != KindPasswordReset {
		t.Fatalf("unexpected payload %+v", decoded)
	}
	if len(km.Headers) != 2 || km.Headers[0].Key != "kind" {
		t.Fatalf("unexpected headers %+v", km.Headers)
	}
}

func TestKafkaSenderBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	s := NewKafkaSender(w, KafkaConfig{
		Topic:               "auth.notifications",
		BreakerMinRequests:  3,
		BreakerFailureRatio: 0.5,
		BreakerTimeout:      time.Minute,
	}, nil)

	for i := 0; i < 3; i++ {
		if err := s.Send(context.Background(), Message{ID: "m"}); err == nil {
			t.Fatal("expected send failure")
		}
	}
	if s.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %v", s.State())
	}
	if err := s.Send(context.Background(), Message{ID: "m"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestLogSenderNeverLogsToken(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	err := s.Send(context.Background(), Message{ID: "m1", Kind: KindPasswordReset, Address: "alice@example.com", Token: "super-secret"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "super-secret") || strings.Contains(out, "alice@") {
		t.Fatalf("log leaked sensitive data: %s", out)
	}
	if !strings.Contains(out, "a***@example.com") {
		t.Fatalf("expected masked address: %s", out)
	}
}
