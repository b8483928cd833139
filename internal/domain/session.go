package domain

import (
	"time"
)

// SessionStatus enumerates lifecycle states of a call session.
type SessionStatus string

const (
	SessionStatusPending            SessionStatus = "pending"
	SessionStatusProviderConnecting SessionStatus = "provider_connecting"
	SessionStatusClientConnecting   SessionStatus = "client_connecting"
	SessionStatusBothConnecting     SessionStatus = "both_connecting"
	SessionStatusCompleted          SessionStatus = "completed"
	SessionStatusFailed             SessionStatus = "failed"
	SessionStatusCancelled          SessionStatus = "cancelled"
)

// ActiveStatuses are the non-terminal statuses counted by admission control.
var ActiveStatuses = []SessionStatus{
	SessionStatusPending,
	SessionStatusProviderConnecting,
	SessionStatusClientConnecting,
	SessionStatusBothConnecting,
}

// forward maps each status on the happy path to its only successor.
var forward = map[SessionStatus]SessionStatus{
	SessionStatusPending:            SessionStatusProviderConnecting,
	SessionStatusProviderConnecting: SessionStatusClientConnecting,
	SessionStatusClientConnecting:   SessionStatusBothConnecting,
	SessionStatusBothConnecting:     SessionStatusCompleted,
}

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the status DAG.
func CanTransition(from, to SessionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == SessionStatusFailed || to == SessionStatusCancelled {
		return true
	}
	return forward[from] == to
}

// PredecessorsOf returns the statuses from which to is reachable in one step.
func PredecessorsOf(to SessionStatus) []SessionStatus {
	if to == SessionStatusFailed || to == SessionStatusCancelled {
		return append([]SessionStatus(nil), ActiveStatuses...)
	}
	var out []SessionStatus
	for from, next := range forward {
		if next == to {
			out = append(out, from)
		}
	}
	return out
}

// Role identifies a participant in a session.
type Role string

const (
	RoleProvider Role = "provider"
	RoleClient   Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleProvider || r == RoleClient
}

// ParticipantStatus enumerates the connection state of one participant.
type ParticipantStatus string

const (
	ParticipantPending      ParticipantStatus = "pending"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantNoAnswer     ParticipantStatus = "no_answer"
)

// PaymentStatus enumerates the state of the payment hold.
type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCanceled   PaymentStatus = "canceled"
)

// IsTerminal reports whether the payment can no longer change.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentRefunded || p == PaymentCanceled
}

// Failure reasons recorded on failed sessions.
const (
	ReasonPaymentInvalid     = "payment_invalid"
	ReasonProviderNoAnswer   = "provider_no_answer"
	ReasonClientNoAnswer     = "client_no_answer"
	ReasonConferenceEarly    = "early_disconnect_conference"
	ReasonSystemError        = "system_error"
	ReasonCancelled          = "cancelled"
	ReasonCaptureDenied      = "capture_denied"
	earlyDisconnectReasonPfx = "early_disconnect_"
)

// EarlyDisconnectReason returns the failure reason for a role leaving early.
func EarlyDisconnectReason(role Role) string {
	return earlyDisconnectReasonPfx + string(role)
}

// CallSession is the root workflow record for one orchestrated two-party call.
type CallSession struct {
	ID           string        `json:"id"`
	Status       SessionStatus `json:"status"`
	Participants Participants  `json:"participants"`
	Conference   Conference    `json:"conference"`
	Payment      Payment       `json:"payment"`
	Metadata     Metadata      `json:"metadata"`

	FailureReason string     `json:"failureReason,omitempty"`
	CancelReason  string     `json:"cancelReason,omitempty"`
	CancelledBy   string     `json:"cancelledBy,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
}

// Participants holds both legs of the session.
type Participants struct {
	Provider Participant `json:"provider"`
	Client   Participant `json:"client"`
}

// Participant describes one dialled party.
type Participant struct {
	Phone          string            `json:"phone"`
	Status         ParticipantStatus `json:"status"`
	AttemptCount   int               `json:"attemptCount"`
	CallID         string            `json:"callId,omitempty"`
	ConnectedAt    *time.Time        `json:"connectedAt,omitempty"`
	DisconnectedAt *time.Time        `json:"disconnectedAt,omitempty"`
}

// Conference is the provider-side bridge joining both participants.
type Conference struct {
	Name                 string     `json:"name"`
	ProviderConferenceID string     `json:"providerConferenceId,omitempty"`
	StartedAt            *time.Time `json:"startedAt,omitempty"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
	Duration             *int       `json:"duration,omitempty"`
	RecordingURL         string     `json:"recordingUrl,omitempty"`
}

// DurationSeconds returns the recorded duration, or zero when unknown.
func (c Conference) DurationSeconds() int {
	if c.Duration == nil {
		return 0
	}
	return *c.Duration
}

// Payment tracks the authorized hold backing the session.
type Payment struct {
	IntentID   string        `json:"intentId"`
	Status     PaymentStatus `json:"status"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency,omitempty"`
	RefundID   string        `json:"refundId,omitempty"`
	CapturedAt *time.Time    `json:"capturedAt,omitempty"`
	RefundedAt *time.Time    `json:"refundedAt,omitempty"`
	CanceledAt *time.Time    `json:"canceledAt,omitempty"`
}

// Metadata carries request-level attributes of the session.
type Metadata struct {
	ProviderID        string    `json:"providerId"`
	ClientID          string    `json:"clientId"`
	ServiceType       string    `json:"serviceType,omitempty"`
	ProviderType      string    `json:"providerType,omitempty"`
	MaxDuration       int       `json:"maxDuration"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	RequestID         string    `json:"requestId,omitempty"`
	ClientLanguages   []string  `json:"clientLanguages,omitempty"`
	ProviderLanguages []string  `json:"providerLanguages,omitempty"`
}

// Participant returns the participant for role.
func (s *CallSession) Participant(role Role) Participant {
	if role == RoleClient {
		return s.Participants.Client
	}
	return s.Participants.Provider
}

// Counterpart returns the other role.
func (r Role) Counterpart() Role {
	if r == RoleClient {
		return RoleProvider
	}
	return RoleClient
}

// DialAttempt captures one dial-and-wait cycle for a participant.
type DialAttempt struct {
	SessionID  string    `json:"sessionId"`
	Role       Role      `json:"role"`
	AttemptNum int       `json:"attempt"`
	CallID     string    `json:"callId,omitempty"`
	Connected  bool      `json:"connected"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// AuditRecord is an append-only trail entry for a session.
type AuditRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ReviewRequest asks the client to review a completed session.
type ReviewRequest struct {
	SessionID  string
	ProviderID string
	ClientID   string
	Duration   int
	CreatedAt  time.Time
}
