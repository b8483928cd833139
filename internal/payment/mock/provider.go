package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/call-session-orchestrator/internal/payment"
	apperrors "github.com/acme/call-session-orchestrator/pkg/errors"
)

// Provider is an in-memory payment provider. Unknown intents are treated as
// fresh holds awaiting capture so local runs need no seeding.
type Provider struct {
	mu       sync.Mutex
	intents  map[string]*payment.Intent
	seenKeys map[string]string
	failNext map[string]error
	captures int
	cancels  int
	refunds  int
}

// New creates an empty mock provider.
func New() *Provider {
	return &Provider{
		intents:  make(map[string]*payment.Intent),
		seenKeys: make(map[string]string),
		failNext: make(map[string]error),
	}
}

// SetIntent registers or replaces an intent.
func (p *Provider) SetIntent(intent payment.Intent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[intent.ID] = &intent
}

// FailNext makes the next call to op ("get", "capture", "cancel", "refund") return err.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = err
}

func (p *Provider) GetPayment(_ context.Context, intentID string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("get"); err != nil {
		return nil, err
	}
	out := *p.intent(intentID)
	return &out, nil
}

func (p *Provider) Capture(_ context.Context, intentID, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("capture"); err != nil {
		return err
	}
	if _, seen := p.seenKeys[key]; seen && key != "" {
		return nil
	}
	intent := p.intent(intentID)
	if intent.Status != payment.IntentRequiresCapture {
		return fmt.Errorf("mock payment: capture %s in status %s", intentID, intent.Status)
	}
	intent.Status = payment.IntentSucceeded
	p.seenKeys[key] = ""
	p.captures++
	return nil
}

func (p *Provider) Cancel(_ context.Context, intentID, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("cancel"); err != nil {
		return err
	}
	if _, seen := p.seenKeys[key]; seen && key != "" {
		return nil
	}
	p.intent(intentID).Status = payment.IntentCanceled
	p.seenKeys[key] = ""
	p.cancels++
	return nil
}

func (p *Provider) Refund(_ context.Context, intentID string, _ int64, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeFailure("refund"); err != nil {
		return "", err
	}
	if id, seen := p.seenKeys[key]; seen && key != "" {
		return id, nil
	}
	if p.intent(intentID).Status != payment.IntentSucceeded {
		return "", fmt.Errorf("%w: refund of uncaptured intent %s", apperrors.ErrConflict, intentID)
	}
	p.refunds++
	id := fmt.Sprintf("re_mock_%d", p.refunds)
	p.seenKeys[key] = id
	return id, nil
}

// Counts returns how many captures, cancels and refunds took effect.
func (p *Provider) Counts() (captures, cancels, refunds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captures, p.cancels, p.refunds
}

func (p *Provider) intent(id string) *payment.Intent {
	intent, ok := p.intents[id]
	if !ok {
		intent = &payment.Intent{ID: id, Status: payment.IntentRequiresCapture}
		p.intents[id] = intent
	}
	return intent
}

func (p *Provider) takeFailure(op string) error {
	err, ok := p.failNext[op]
	if !ok {
		return nil
	}
	delete(p.failNext, op)
	return err
}
