// Package call relays WebRTC signaling between two identified parties. The
// relay never inspects or stores media; it forwards offer/answer/ICE
// payloads verbatim and keeps only enough transient bookkeeping to know who
// is mid-call with whom.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casalink/support-chat/internal/model"
	"github.com/casalink/support-chat/pkg/logger"
	"github.com/casalink/support-chat/pkg/metrics"
)

// ErrPeerOffline is returned when a call is placed to a user with no live
// connection. Callers treat it as an immediate rejection.
var ErrPeerOffline = errors.New("peer offline")

// Presence is the slice of the presence registry the relay needs.
type Presence interface {
	IsOnline(userID string) bool
}

// Notifier delivers signaling events to all connections of a user.
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []string, event model.Event)
}

// State of one signaling session.
type State int

const (
	StateCalling State = iota
	StateConnected
)

// session is the transient record of one call attempt. Sessions carry a
// server-generated ID so overlapping attempts between the same pair, or a
// stale attempt from a crashed tab, cannot block new calls.
type session struct {
	id       string
	callerID string
	calleeID string
	kind     model.CallKind
	state    State
}

// Relay forwards call signaling keyed by (caller, callee, session).
type Relay struct {
	presence Presence
	notifier Notifier
	logger   *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session // by session ID
}

// NewRelay creates a relay.
func NewRelay(p Presence, n Notifier, log *logger.Logger) *Relay {
	return &Relay{
		presence: p,
		notifier: n,
		logger:   log,
		sessions: make(map[string]*session),
	}
}

// PlaceCall forwards an SDP offer to every connection of the callee.
// Fails with ErrPeerOffline when the callee has no registered connection;
// no incoming-call event is produced in that case.
func (r *Relay) PlaceCall(ctx context.Context, callerID, callerName, calleeID string, offer []byte, kind model.CallKind) (string, error) {
	if !r.presence.IsOnline(calleeID) {
		metrics.CallsTotal.WithLabelValues(string(kind), "peer_offline").Inc()
		return "", ErrPeerOffline
	}

	s := &session{
		id:       uuid.Must(uuid.NewV7()).String(),
		callerID: callerID,
		calleeID: calleeID,
		kind:     kind,
		state:    StateCalling,
	}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	metrics.CallsTotal.WithLabelValues(string(kind), "placed").Inc()
	r.logger.Info("call placed",
		zap.String("call_id", s.id),
		zap.String("caller", callerID),
		zap.String("callee", calleeID),
		zap.String("kind", string(kind)),
	)

	r.notifier.NotifyUsers(ctx, []string{calleeID}, model.NewEvent(model.EventIncomingCall,
		model.IncomingCallPayload{
			CallID:   s.id,
			From:     callerID,
			Name:     callerName,
			Signal:   offer,
			CallType: kind,
		}))
	return s.id, nil
}

// AcceptCall forwards the SDP answer back to the caller and marks the
// session connected.
func (r *Relay) AcceptCall(ctx context.Context, calleeID, callerID string, answer []byte) error {
	s := r.findPair(callerID, calleeID, StateCalling)
	if s == nil {
		return ErrPeerOffline
	}
	r.mu.Lock()
	s.state = StateConnected
	r.mu.Unlock()

	metrics.CallsTotal.WithLabelValues(string(s.kind), "accepted").Inc()
	r.notifier.NotifyUsers(ctx, []string{callerID}, model.NewEvent(model.EventCallAccepted,
		model.CallAcceptedPayload{CallID: s.id, From: calleeID, Signal: answer}))
	return nil
}

// RejectCall tears down the pending session and tells the caller.
func (r *Relay) RejectCall(ctx context.Context, calleeID, callerID string) {
	s := r.findPair(callerID, calleeID, StateCalling)
	if s == nil {
		return
	}
	r.remove(s.id)
	metrics.CallsTotal.WithLabelValues(string(s.kind), "rejected").Inc()
	r.notifier.NotifyUsers(ctx, []string{callerID}, model.NewEvent(model.EventCallRejected,
		model.CallPeerPayload{From: calleeID, CallID: s.id}))
}

// RelayIceCandidate forwards a candidate verbatim. Candidates are only
// relayed while a session between the pair is live; per-sender FIFO order
// is preserved because each connection's events are handled sequentially
// and the fan-out bus keeps per-subject order.
func (r *Relay) RelayIceCandidate(ctx context.Context, fromID, toID string, candidate []byte) {
	if !r.hasLivePair(fromID, toID) {
		return
	}
	r.notifier.NotifyUsers(ctx, []string{toID}, model.NewEvent(model.EventIceCandidate,
		model.IceCandidatePayload{From: fromID, Candidate: candidate}))
}

// EndCall ends every session between the pair and tells the other side.
// Idempotent: ending an already-ended call removes nothing and emits
// nothing.
func (r *Relay) EndCall(ctx context.Context, fromID, toID string) {
	var ended []*session
	r.mu.Lock()
	for id, s := range r.sessions {
		if pairMatches(s, fromID, toID) {
			ended = append(ended, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	if len(ended) == 0 {
		return
	}
	for _, s := range ended {
		metrics.CallsTotal.WithLabelValues(string(s.kind), "ended").Inc()
	}
	r.notifier.NotifyUsers(ctx, []string{toID}, model.NewEvent(model.EventCallEnded,
		model.CallPeerPayload{From: fromID}))
}

// EndAllFor ends every session the user is part of and notifies each peer.
// Called by the router when a party's connection drops: a callee going
// offline mid-ring is an explicit end, not something peers must infer.
func (r *Relay) EndAllFor(ctx context.Context, userID string) {
	var peers []string
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.callerID == userID || s.calleeID == userID {
			peer := s.callerID
			if peer == userID {
				peer = s.calleeID
			}
			peers = append(peers, peer)
			metrics.CallsTotal.WithLabelValues(string(s.kind), "dropped").Inc()
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, peer := range peers {
		r.notifier.NotifyUsers(ctx, []string{peer}, model.NewEvent(model.EventCallEnded,
			model.CallPeerPayload{From: userID}))
	}
}

// findPair returns the session between caller and callee in the given
// state, if any.
func (r *Relay) findPair(callerID, calleeID string, state State) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.callerID == callerID && s.calleeID == calleeID && s.state == state {
			return s
		}
	}
	return nil
}

func (r *Relay) hasLivePair(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if pairMatches(s, a, b) {
			return true
		}
	}
	return false
}

func (r *Relay) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func pairMatches(s *session, a, b string) bool {
	return (s.callerID == a && s.calleeID == b) || (s.callerID == b && s.calleeID == a)
}
