// Package notify delivers account messages, such as password reset links,
// to an external delivery service.
//
// Messages are queued on an Outbox and handed to a Sender by background
// workers that retry with exponential backoff. Delivery is at-least-once
// and never blocks or fails the operation that produced the message.
package notify

import (
	"context"
	"time"
)

// Kind identifies the template the delivery service should render.
type Kind string

const (
	KindPasswordReset Kind = "password_reset"
)

// Message is one outbound notification. Token is the credential to embed in
// the message and must never be logged.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Address   string    `json:"address"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender hands a message to a delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
