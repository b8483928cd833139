// Package memory provides in-process repository implementations used by tests
// and by the memory storage driver.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/repository"
)

// SessionStore keeps session documents as raw JSON and edits them by path.
type SessionStore struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	order []string
	now   func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		docs: make(map[string][]byte),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a decoded copy of the session.
func (s *SessionStore) Get(_ context.Context, id string) (*domain.CallSession, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}
	return decode(doc)
}

// Set stores a new session document.
func (s *SessionStore) Set(_ context.Context, session *domain.CallSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("memory store: marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[session.ID]; exists {
		return fmt.Errorf("%w: session %s already exists", repository.ErrConflict, session.ID)
	}
	s.docs[session.ID] = doc
	s.order = append(s.order, session.ID)
	return nil
}

// Update applies fields when every condition holds.
func (s *SessionStore) Update(_ context.Context, id string, fields repository.Fields, conds ...repository.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}
	for _, cond := range conds {
		if !matches(doc, cond.Field, cond.In) {
			return fmt.Errorf("%w: session %s: %s not in %v", repository.ErrConflict, id, cond.Field, cond.In)
		}
	}

	var err error
	for path, value := range fields {
		doc, err = sjson.SetBytes(doc, path, value)
		if err != nil {
			return fmt.Errorf("memory store: set %s: %w", path, err)
		}
	}
	doc, err = sjson.SetBytes(doc, "metadata.updatedAt", s.now())
	if err != nil {
		return fmt.Errorf("memory store: touch: %w", err)
	}
	s.docs[id] = doc
	return nil
}

// IncrementField adds one to the number at path.
func (s *SessionStore) IncrementField(_ context.Context, id, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return 0, fmt.Errorf("%w: session %s", repository.ErrNotFound, id)
	}
	next := int(gjson.GetBytes(doc, path).Int()) + 1
	doc, err := sjson.SetBytes(doc, path, next)
	if err != nil {
		return 0, fmt.Errorf("memory store: increment %s: %w", path, err)
	}
	s.docs[id] = doc
	return next, nil
}

// Query returns sessions matching every filter in insertion order.
func (s *SessionStore) Query(_ context.Context, filters ...repository.Filter) ([]*domain.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CallSession
	for _, id := range s.order {
		doc := s.docs[id]
		keep := true
		for _, f := range filters {
			if !matches(doc, f.Field, f.In) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		session, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func matches(doc []byte, path string, in []string) bool {
	val := gjson.GetBytes(doc, path).String()
	for _, candidate := range in {
		if val == candidate {
			return true
		}
	}
	return false
}

func decode(doc []byte) (*domain.CallSession, error) {
	var session domain.CallSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("memory store: decode session: %w", err)
	}
	return &session, nil
}
