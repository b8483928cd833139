package queue

import (
	"time"
)

// Event types published on the session event topic.
const (
	EventSessionCreated   = "session.created"
	EventSessionStarted   = "session.started"
	EventSessionCompleted = "session.completed"
	EventSessionFailed    = "session.failed"
	EventSessionCancelled = "session.cancelled"
	EventPaymentCaptured  = "payment.captured"
	EventPaymentRefunded  = "payment.refunded"
	EventPaymentCanceled  = "payment.canceled"
	EventReviewRequested  = "review.requested"
	EventRequestRejected  = "session.request_rejected"
)

// SessionEvent is a lifecycle fact about one session.
type SessionEvent struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	Status     string         `json:"status,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NotificationMessage asks the delivery service to send a templated message.
type NotificationMessage struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id,omitempty"`
	To           string            `json:"to"`
	TemplateID   string            `json:"template_id"`
	Vars         map[string]string `json:"vars,omitempty"`
	FallbackText string            `json:"fallback_text"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SessionRequestMessage is a request to create and start a call session.
type SessionRequestMessage struct {
	RequestID         string    `json:"request_id"`
	SessionID         string    `json:"session_id,omitempty"`
	ProviderID        string    `json:"provider_id"`
	ClientID          string    `json:"client_id"`
	ProviderPhone     string    `json:"provider_phone"`
	ClientPhone       string    `json:"client_phone"`
	PaymentIntentID   string    `json:"payment_intent_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency,omitempty"`
	ServiceType       string    `json:"service_type,omitempty"`
	ProviderType      string    `json:"provider_type,omitempty"`
	MaxDuration       int       `json:"max_duration,omitempty"`
	ClientLanguages   []string  `json:"client_languages,omitempty"`
	ProviderLanguages []string  `json:"provider_languages,omitempty"`
	DelayMinutes      int       `json:"delay_minutes,omitempty"`
	Queue             bool      `json:"queue,omitempty"`
	SubmittedAt       time.Time `json:"submitted_at"`
}
