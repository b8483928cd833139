package mock

import (
	"context"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-session-orchestrator/internal/config"
	"github.com/acme/call-session-orchestrator/internal/domain"
	"github.com/acme/call-session-orchestrator/internal/telephony"
	"github.com/acme/call-session-orchestrator/pkg/logger"
)

// EventSink receives the callbacks a real provider would post to the webhooks.
type EventSink interface {
	HandleParticipantStatus(ctx context.Context, evt telephony.ParticipantEvent) error
	HandleConferenceStatus(ctx context.Context, evt telephony.ConferenceEvent) error
}

// Provider simulates outbound legs and conference bridging.
type Provider struct {
	answerRate float64
	ringDelay  time.Duration
	talkTime   time.Duration
	log        *logger.Logger

	mu          sync.Mutex
	rng         *rand.Rand
	sink        EventSink
	calls       map[string]*simCall
	conferences map[string]*simConference
}

type simCall struct {
	id        string
	sessionID string
	role      domain.Role
	attempt   int
	conf      string
	done      chan struct{}
	answered  bool
	finished  bool
}

type simConference struct {
	sid       string
	sessionID string
	members   map[domain.Role]string
	started   bool
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.MockTelephony, log *logger.Logger) *Provider {
	if cfg.AnswerRate <= 0 {
		cfg.AnswerRate = 0.9
	}
	if cfg.RingDelay <= 0 {
		cfg.RingDelay = 2 * time.Second
	}
	if cfg.TalkTime <= 0 {
		cfg.TalkTime = 150 * time.Second
	}
	return &Provider{
		answerRate:  cfg.AnswerRate,
		ringDelay:   cfg.RingDelay,
		talkTime:    cfg.TalkTime,
		log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		calls:       make(map[string]*simCall),
		conferences: make(map[string]*simConference),
	}
}

// Attach wires the callback receiver. Calls placed before Attach emit nothing.
func (p *Provider) Attach(sink EventSink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// PlaceCall simulates a ringing leg and schedules its callbacks.
func (p *Provider) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (string, error) {
	call := &simCall{
		id:   "CA" + uuid.NewString(),
		conf: req.ConferenceName,
		done: make(chan struct{}),
	}
	if u, err := url.Parse(req.StatusCallbackURL); err == nil {
		call.sessionID = u.Query().Get("sessionId")
		call.role = domain.Role(u.Query().Get("role"))
		call.attempt, _ = strconv.Atoi(u.Query().Get("attempt"))
	}

	p.mu.Lock()
	p.calls[call.id] = call
	answered := p.rng.Float64() < p.answerRate
	p.mu.Unlock()

	go p.simulate(call, answered)
	return call.id, nil
}

// CancelCall hangs up a simulated leg.
func (p *Provider) CancelCall(_ context.Context, callID string) error {
	p.mu.Lock()
	call, ok := p.calls[callID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	p.hangup(call)
	return nil
}

func (p *Provider) simulate(call *simCall, answered bool) {
	select {
	case <-call.done:
		return
	case <-time.After(p.ringDelay):
	}

	if !answered {
		p.finish(call, "no-answer")
		return
	}

	p.mu.Lock()
	call.answered = true
	conf := p.conferences[call.conf]
	if conf == nil {
		conf = &simConference{sid: "CF" + uuid.NewString(), sessionID: call.sessionID, members: make(map[domain.Role]string)}
		p.conferences[call.conf] = conf
	}
	conf.members[call.role] = call.id
	bridged := len(conf.members) == 2 && !conf.started
	if bridged {
		conf.started = true
	}
	p.mu.Unlock()

	p.emitParticipant(call, "in-progress")
	if !bridged {
		return
	}

	p.emitConference(call.conf, conf, telephony.ConferenceStart)
	select {
	case <-call.done:
	case <-time.After(p.talkTime):
		p.endConference(call.conf)
	}
}

func (p *Provider) hangup(call *simCall) {
	p.mu.Lock()
	conf := p.conferences[call.conf]
	started := conf != nil && conf.started
	p.mu.Unlock()

	if started {
		p.endConference(call.conf)
		return
	}
	p.finish(call, "completed")
}

func (p *Provider) endConference(name string) {
	p.mu.Lock()
	conf := p.conferences[name]
	if conf == nil {
		p.mu.Unlock()
		return
	}
	delete(p.conferences, name)
	var legs []*simCall
	for _, id := range conf.members {
		if c := p.calls[id]; c != nil {
			legs = append(legs, c)
		}
	}
	p.mu.Unlock()

	for _, leg := range legs {
		p.finish(leg, "completed")
	}
	p.emitConference(name, conf, telephony.ConferenceEnd)
}

func (p *Provider) finish(call *simCall, status string) {
	p.mu.Lock()
	if call.finished {
		p.mu.Unlock()
		return
	}
	call.finished = true
	close(call.done)
	delete(p.calls, call.id)
	p.mu.Unlock()

	p.emitParticipant(call, status)
}

func (p *Provider) emitParticipant(call *simCall, status string) {
	sink := p.currentSink()
	if sink == nil {
		return
	}
	evt := telephony.ParticipantEvent{
		SessionID: call.sessionID,
		Role:      call.role,
		Attempt:   call.attempt,
		CallID:    call.id,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if err := sink.HandleParticipantStatus(context.Background(), evt); err != nil {
		p.log.Warn("mock telephony: participant callback failed", zap.String("call_id", call.id), zap.Error(err))
	}
}

func (p *Provider) emitConference(name string, conf *simConference, event string) {
	sink := p.currentSink()
	if sink == nil {
		return
	}
	evt := telephony.ConferenceEvent{
		SessionID:     conf.sessionID,
		ConferenceSID: conf.sid,
		Name:          name,
		Event:         event,
		Timestamp:     time.Now().UTC(),
	}
	if err := sink.HandleConferenceStatus(context.Background(), evt); err != nil {
		p.log.Warn("mock telephony: conference callback failed", zap.String("conference", name), zap.Error(err))
	}
}

func (p *Provider) currentSink() EventSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}
