// internal/netsync/session.go
//
// The synchronization layer: one Session per peer per match. A session owns
// its game state outright; all calls must come from a single goroutine (the
// client's tick loop), so there is no locking here. Convergence rests on two
// rules: every peer applies envelopes in strict sequence order, and only the
// current player's peer may author the next envelope.
package netsync

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eightsync/internal/deck"
	"eightsync/internal/engine"
	"eightsync/internal/game"
	"eightsync/internal/protocol"
	"eightsync/internal/transport"
)

// ErrStateDesync means this replica's state provably diverged from a peer's:
// either a digest mismatch at an equal sequence number, or a received action
// that validated on its author but not here. There is no protocol to repair
// it; the match is over for this peer.
var ErrStateDesync = errors.New("netsync: replicas have diverged")

// ErrOutOfTurn marks a correctly-sequenced envelope whose author is not the
// current player. Only the current player's peer may author the next action,
// so these are dropped rather than applied; the offender's own replica is
// the one that diverges.
var ErrOutOfTurn = errors.New("netsync: envelope author is not the current player")

// Recorder receives every envelope as it is applied, in order; final marks
// the envelope that ended the match. The history package implements it over
// redis; a nil Recorder disables recording.
type Recorder interface {
	Record(matchID uuid.UUID, env protocol.Envelope, final bool) error
}

// Session drives one replica of a match over a peer channel.
type Session struct {
	eng   *engine.Engine
	ch    transport.PeerChannel
	state *game.State
	log   *logrus.Entry
	rec   Recorder

	// applied is the full ordered log of applied envelopes; applied[i] has
	// Seq i+1. It backs resend requests from lagging peers.
	applied []protocol.Envelope

	// pending buffers envelopes that arrived ahead of a gap, keyed by Seq.
	pending map[uint64]protocol.Envelope

	// requestedThrough is the highest seq already covered by an outstanding
	// resend request, to avoid re-asking for the same gap on every
	// out-of-order arrival.
	requestedThrough uint64
}

// NewSession wraps a freshly set-up state. The recorder may be nil.
func NewSession(eng *engine.Engine, ch transport.PeerChannel, s *game.State, rec Recorder, log *logrus.Entry) *Session {
	return &Session{
		eng:     eng,
		ch:      ch,
		state:   s,
		log:     log.WithFields(logrus.Fields{"match_id": s.MatchID, "self": ch.Self()}),
		rec:     rec,
		pending: make(map[uint64]protocol.Envelope),
	}
}

// State exposes the replica for rendering. Callers must not mutate it.
func (sn *Session) State() *game.State { return sn.state }

// Propose validates and applies a local action, then broadcasts the stamped
// envelope. Rejections return the engine's IllegalActionError and leave both
// the state and the wire untouched; only validated actions ever go out.
func (sn *Session) Propose(a protocol.Action) (engine.Result, error) {
	res, err := sn.eng.Apply(sn.state, sn.ch.Self(), a)
	if err != nil {
		return engine.Result{}, err
	}
	env := protocol.Envelope{Seq: sn.state.Seq, Author: sn.ch.Self(), Action: a}
	sn.commit(env, res.GameOver)

	data, err := protocol.EncodeMessage(protocol.Message{Type: protocol.MsgAction, Envelope: &env})
	if err != nil {
		return res, err
	}
	if err := sn.ch.Broadcast(data); err != nil {
		return res, fmt.Errorf("broadcast action: %w", err)
	}
	return res, nil
}

// ProposeDraw is Propose for a draw, attaching a replenish order when the
// draw will outrun the deck. The seed feeds the actor's one shuffle.
func (sn *Session) ProposeDraw(seed int64) (engine.Result, error) {
	return sn.Propose(sn.eng.PrepareDraw(sn.state, seed))
}

// ShareDigest broadcasts the replica's current digest so peers can check
// convergence. Called periodically by the client, typically per own turn.
func (sn *Session) ShareDigest() error {
	d := protocol.Digest{Seq: sn.state.Seq, Hash: sn.state.Digest()}
	data, err := protocol.EncodeMessage(protocol.Message{Type: protocol.MsgDigest, Digest: &d})
	if err != nil {
		return err
	}
	return sn.ch.Broadcast(data)
}

// HandleEvent feeds one peer-channel event into the session.
func (sn *Session) HandleEvent(ev transport.Event) error {
	switch ev.Kind {
	case transport.EventData:
		return sn.HandleMessage(ev.Peer, ev.Data)
	case transport.EventPeerJoined:
		sn.log.WithField("peer", ev.Peer).Info("peer joined")
	case transport.EventPeerLeft:
		sn.log.WithField("peer", ev.Peer).Warn("peer left")
	case transport.EventClosed:
		if ev.Err != nil {
			return fmt.Errorf("peer channel closed: %w", ev.Err)
		}
		return errors.New("peer channel closed")
	}
	return nil
}

// HandleMessage processes one raw frame from a peer. Malformed frames are an
// error; a correct implementation never sends them.
func (sn *Session) HandleMessage(from uuid.UUID, data []byte) error {
	m, err := protocol.DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("from %s: %w", from, err)
	}

	switch m.Type {
	case protocol.MsgAction:
		return sn.handleEnvelope(from, *m.Envelope)
	case protocol.MsgResendRequest:
		return sn.handleResendRequest(from, *m.Resend)
	case protocol.MsgResend:
		for _, env := range m.Envelopes {
			if err := sn.handleEnvelope(from, env); err != nil {
				return err
			}
		}
		// The serving peer may not hold the whole range. If the gap is still
		// open, drop the high-water mark so the next out-of-order arrival can
		// re-request the rest instead of waiting out the suppression.
		if sn.state.Seq < sn.requestedThrough {
			sn.requestedThrough = sn.state.Seq
		}
		return nil
	case protocol.MsgDigest:
		return sn.handleDigest(from, *m.Digest)
	case protocol.MsgStart:
		// The match is already running; a late start frame is a peer bug.
		sn.log.WithField("peer", from).Warn("ignoring start message mid-match")
		return nil
	case protocol.MsgHello:
		// Lobby traffic from a late joiner; spectating is not supported.
		sn.log.WithField("peer", from).Debug("ignoring hello mid-match")
		return nil
	}
	return nil
}

func (sn *Session) handleEnvelope(from uuid.UUID, env protocol.Envelope) error {
	next := sn.state.Seq + 1
	switch {
	case env.Seq < next:
		// Duplicate of something already applied; resends make these routine.
		sn.log.WithFields(logrus.Fields{"seq": env.Seq, "peer": from}).Debug("dropping duplicate envelope")
		return nil

	case env.Seq > next:
		sn.pending[env.Seq] = env
		if env.Seq-1 > sn.requestedThrough {
			sn.log.WithFields(logrus.Fields{
				"have": sn.state.Seq,
				"got":  env.Seq,
			}).Info("sequence gap, requesting resend")
			if err := sn.requestResend(from, next, env.Seq-1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := sn.apply(env); err != nil {
		if errors.Is(err, ErrOutOfTurn) {
			// Drop it. The rightful author will produce this seq.
			sn.log.WithFields(logrus.Fields{"seq": env.Seq, "author": env.Author}).Warn("dropping out-of-turn envelope")
			return nil
		}
		return err
	}

	// Drain any buffered envelopes the gap was holding back.
	for {
		buffered, ok := sn.pending[sn.state.Seq+1]
		if !ok {
			return nil
		}
		delete(sn.pending, buffered.Seq)
		if err := sn.apply(buffered); err != nil {
			if errors.Is(err, ErrOutOfTurn) {
				sn.log.WithFields(logrus.Fields{"seq": buffered.Seq, "author": buffered.Author}).Warn("dropping out-of-turn envelope")
				return nil
			}
			return err
		}
	}
}

// apply runs one in-order envelope through the engine. The author validated
// it before sending, so a rejection here means the replicas disagree on the
// state itself, which is a desync, not a bad action.
func (sn *Session) apply(env protocol.Envelope) error {
	res, err := sn.eng.Apply(sn.state, env.Author, env.Action)
	if err != nil {
		var ill *engine.IllegalActionError
		if errors.As(err, &ill) {
			if ill.Reason == protocol.ReasonNotYourTurn {
				return ErrOutOfTurn
			}
			sn.log.WithFields(logrus.Fields{
				"seq":    env.Seq,
				"author": env.Author,
				"reason": ill.Reason,
			}).Error("validated remote action rejected locally")
			return fmt.Errorf("%w: seq %d rejected: %s", ErrStateDesync, env.Seq, ill.Reason)
		}
		if errors.Is(err, deck.ErrExhausted) {
			return err
		}
		return fmt.Errorf("apply seq %d: %w", env.Seq, err)
	}
	sn.commit(env, res.GameOver)
	return nil
}

func (sn *Session) commit(env protocol.Envelope, final bool) {
	sn.applied = append(sn.applied, env)
	if env.Seq <= sn.requestedThrough {
		// The gap is closing; allow future gaps to be re-requested.
		if env.Seq == sn.requestedThrough {
			sn.requestedThrough = 0
		}
	}
	if sn.rec != nil {
		if err := sn.rec.Record(sn.state.MatchID, env, final); err != nil {
			// Recording is best effort; the match does not stop for it.
			sn.log.WithError(err).Warn("history record failed")
		}
	}
	sn.log.WithFields(logrus.Fields{
		"seq":    env.Seq,
		"author": env.Author,
		"action": env.Action.Type,
	}).Debug("applied")
}

func (sn *Session) requestResend(to uuid.UUID, from, through uint64) error {
	req := protocol.ResendRequest{From: from, To: through}
	data, err := protocol.EncodeMessage(protocol.Message{Type: protocol.MsgResendRequest, Resend: &req})
	if err != nil {
		return err
	}
	if err := sn.ch.Send(to, data); err != nil {
		return fmt.Errorf("request resend: %w", err)
	}
	sn.requestedThrough = through
	return nil
}

// handleResendRequest serves stored envelopes back to a lagging peer. Seqs
// the log does not cover are silently omitted; the requester will ask the
// actual author on the next gap it sees.
func (sn *Session) handleResendRequest(from uuid.UUID, req protocol.ResendRequest) error {
	if req.From == 0 || req.To < req.From {
		return fmt.Errorf("from %s: bad resend range [%d,%d]", from, req.From, req.To)
	}
	var envs []protocol.Envelope
	for seq := req.From; seq <= req.To && seq <= uint64(len(sn.applied)); seq++ {
		envs = append(envs, sn.applied[seq-1])
	}
	sn.log.WithFields(logrus.Fields{
		"peer":  from,
		"from":  req.From,
		"to":    req.To,
		"count": len(envs),
	}).Info("serving resend")
	data, err := protocol.EncodeMessage(protocol.Message{Type: protocol.MsgResend, Envelopes: envs})
	if err != nil {
		return err
	}
	return sn.ch.Send(from, data)
}

// handleDigest compares a peer's digest against the local replica. Digests
// are only comparable at equal sequence numbers; at equal seq a deterministic
// engine over an identical log must hash identically, so any mismatch is a
// genuine divergence.
func (sn *Session) handleDigest(from uuid.UUID, d protocol.Digest) error {
	switch {
	case d.Seq < sn.state.Seq:
		// Peer is behind; it will catch up from the action stream.
		return nil
	case d.Seq > sn.state.Seq:
		// We are behind. The actions themselves will arrive (or be
		// re-requested when a gap shows); ask proactively to shorten the wait.
		if d.Seq > sn.requestedThrough {
			return sn.requestResend(from, sn.state.Seq+1, d.Seq)
		}
		return nil
	}
	if d.Hash != sn.state.Digest() {
		sn.log.WithFields(logrus.Fields{
			"peer":   from,
			"seq":    d.Seq,
			"theirs": fmt.Sprintf("%016x", d.Hash),
			"ours":   fmt.Sprintf("%016x", sn.state.Digest()),
		}).Error("digest mismatch")
		return fmt.Errorf("%w: digest mismatch with %s at seq %d", ErrStateDesync, from, d.Seq)
	}
	return nil
}
