package notification

import (
	"context"
	"time"
)

// Channel is a delivery channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Status tracks a message through the dispatcher
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one outbound email or SMS
type Message struct {
	ID      string  `json:"id"`
	Channel Channel `json:"channel"`
	From    string  `json:"from,omitempty"`
	To      string  `json:"to"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`

	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// Transport is the best-effort email/SMS boundary the escalation engine
// pages through. A nil error means the message was accepted for delivery,
// not that it was delivered.
type Transport interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendSMS(ctx context.Context, to, message string) error
}

// Provider hands a message to a carrier
type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

// Stats counts dispatcher outcomes since start
type Stats struct {
	Accepted int64 `json:"accepted"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
}
