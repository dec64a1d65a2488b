package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adewale/keyboardia/internal/canonhash"
	"github.com/adewale/keyboardia/internal/metrics"
	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/mutate"
	"github.com/adewale/keyboardia/internal/persistence"
	"github.com/adewale/keyboardia/internal/protocol"
)

// SendTimeout is not referenced by the broadcast path: trySend relies on
// Conn.Send being non-blocking, so an envelope for a connection that cannot
// take it is dropped at once and a slow reader never stalls the session's
// mailbox loop.
const SendTimeout = 50 * time.Millisecond

// ColdFlushDebounce is how long the session waits after its last connection
// closes before writing to the cold tier (spec §4.2).
const ColdFlushDebounce = 2 * time.Second

// HashMismatchDebounce is the number of consecutive mismatched hash
// challenges from the same player required before the coordinator pushes an
// unsolicited snapshot (spec §8 scenario 5: "two consecutive rounds").
const HashMismatchDebounce = 2

// Conn is the coordinator's view of one connected player. Implementations
// live in internal/wsapi and must make Send non-blocking (buffered channel;
// drop and return false when it is full) — the session's mailbox loop calls Send
// directly and a slow reader must never stall it.
type Conn interface {
	PlayerID() string
	Send(protocol.Envelope) bool
}

// Session is the single-threaded-per-session actor that owns one
// model.Session and serializes every mutating operation through its mailbox
// (spec §1's "single logical actor per session", §5's concurrency model).
// All exported methods are safe to call from any goroutine — they only ever
// enqueue onto the mailbox; the loop goroutine is the sole mutator of state.
type Session struct {
	id      string
	store   *persistence.Store
	metrics *metrics.Metrics
	mailbox chan func()
	done    chan struct{}

	// Owned exclusively by the loop goroutine.
	state      *model.Session
	conns      map[string]Conn
	mismatches map[string]int
	lastActive time.Time
	coldTimer  *time.Timer
}

func newSession(id string, store *persistence.Store, m *metrics.Metrics, state *model.Session) *Session {
	s := &Session{
		id:         id,
		store:      store,
		metrics:    m,
		mailbox:    make(chan func(), 256),
		done:       make(chan struct{}),
		state:      state,
		conns:      make(map[string]Conn),
		mismatches: make(map[string]int),
		lastActive: time.Now(),
	}
	go s.loop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// enqueue runs fn on the session's single loop goroutine and blocks until it
// completes, making every exported method below synchronous from the
// caller's point of view while still serializing against every other caller.
func (s *Session) enqueue(fn func()) {
	reply := make(chan struct{})
	s.mailbox <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// Join registers a connection and returns the current snapshot to send.
func (s *Session) Join(c Conn) (state *model.Session, seq uint64, hash string) {
	s.enqueue(func() {
		wasEmpty := len(s.conns) == 0
		s.conns[c.PlayerID()] = c
		if s.coldTimer != nil {
			s.coldTimer.Stop()
			s.coldTimer = nil
		}
		state = s.state.Clone()
		seq = s.state.StateSeq
		hash = canonhash.Session(s.state)
		s.broadcastPresenceLocked()
		if s.metrics != nil {
			s.metrics.ConnectedPlayers.Inc()
			if wasEmpty {
				s.metrics.ConnectedSessions.Inc()
			}
		}
	})
	return
}

// Leave removes a connection. Once the last connection leaves, a debounced
// cold-tier flush is scheduled (spec §4.2).
func (s *Session) Leave(playerID string) {
	s.enqueue(func() {
		if _, ok := s.conns[playerID]; !ok {
			return
		}
		delete(s.conns, playerID)
		delete(s.mismatches, playerID)
		s.broadcastPresenceLocked()
		if s.metrics != nil {
			s.metrics.ConnectedPlayers.Dec()
			if len(s.conns) == 0 {
				s.metrics.ConnectedSessions.Dec()
			}
		}
		if len(s.conns) == 0 {
			s.scheduleColdFlushLocked()
		}
	})
}

func (s *Session) scheduleColdFlushLocked() {
	if s.coldTimer != nil {
		s.coldTimer.Stop()
	}
	snap := s.state.Clone()
	s.coldTimer = time.AfterFunc(ColdFlushDebounce, func() {
		s.enqueue(func() {
			if len(s.conns) != 0 {
				return // a client reconnected before the debounce fired
			}
			if err := s.store.SaveCold(context.Background(), snap); err != nil {
				slog.Error("cold tier flush failed", "session_id", s.id, "error", err)
				return
			}
			if s.metrics != nil {
				s.metrics.ColdFlushesTotal.Inc()
			}
		})
	})
}

// FlushCold writes the session's current state to the cold tier immediately,
// bypassing the idle debounce. Used on coordinator shutdown so no mutation
// made in the final debounce window is lost.
func (s *Session) FlushCold(ctx context.Context) error {
	var snap *model.Session
	s.enqueue(func() {
		snap = s.state.Clone()
	})
	return s.store.SaveCold(ctx, snap)
}

func (s *Session) broadcastPresenceLocked() {
	entries := make([]protocol.PresenceEntry, 0, len(s.conns))
	for id := range s.conns {
		entries = append(entries, protocol.PresenceEntry{ClientID: id})
	}
	env := protocol.Envelope{Type: protocol.TypePresence, Connected: entries}
	for _, c := range s.conns {
		trySend(c, env)
	}
}

// Mutate runs the full mutation handling algorithm of spec §4.1 and returns
// what the caller (the wsapi handler) should send back to the originator.
func (s *Session) Mutate(originID, clientOpID, op string, payload json.RawMessage) (ack *protocol.Envelope, nack *protocol.Envelope) {
	s.enqueue(func() {
		s.lastActive = time.Now()

		if err := mutate.Apply(s.state, op, payload); err != nil {
			nack = &protocol.Envelope{Type: protocol.TypeNack, ClientOpID: clientOpID, Reason: err.Error()}
			if s.metrics != nil {
				s.metrics.MutationsRejected.WithLabelValues(op).Inc()
			}
			return
		}
		repairs := model.ValidateAndRepair(s.state)
		for _, r := range repairs {
			slog.Info("mutation repair applied", "session_id", s.id, "track_id", r.TrackID, "field", r.Field, "detail", r.Detail)
		}
		s.state.StateSeq++

		if err := s.store.SaveHot(context.Background(), s.state); err != nil {
			slog.Error("hot tier write failed", "session_id", s.id, "error", err)
		}

		hash := canonhash.Session(s.state)
		ack = &protocol.Envelope{Type: protocol.TypeAck, ClientOpID: clientOpID, StateSeq: s.state.StateSeq}

		if s.metrics != nil {
			s.metrics.MutationsTotal.WithLabelValues(op).Inc()
		}

		broadcast := protocol.Envelope{
			Type:     protocol.TypeApplied,
			Op:       op,
			Payload:  payload,
			StateSeq: s.state.StateSeq,
			Hash:     hash,
		}
		for id, c := range s.conns {
			if id == originID {
				continue
			}
			ok := trySend(c, broadcast)
			if s.metrics != nil {
				s.metrics.BroadcastsTotal.Inc()
				if !ok {
					s.metrics.BroadcastsDropped.Inc()
				}
			}
		}
	})
	return
}

// SnapshotRequest returns a full snapshot envelope, regardless of the
// client's knownSeq — the coordinator always has the authoritative state in
// memory, so there is no incremental catch-up log to replay (spec §4.3).
func (s *Session) SnapshotRequest() protocol.Envelope {
	var env protocol.Envelope
	s.enqueue(func() {
		b, _ := json.Marshal(s.state)
		env = protocol.Envelope{
			Type:     protocol.TypeSnapshot,
			Snapshot: b,
			StateSeq: s.state.StateSeq,
			Hash:     canonhash.Session(s.state),
		}
		if s.metrics != nil {
			s.metrics.SnapshotsSentTotal.Inc()
		}
	})
	return env
}

// Ping replies with the coordinator's wall clock for clock-sync sampling.
func (s *Session) Ping(clientTimeMs uint64) protocol.Envelope {
	return protocol.Envelope{
		Type:         protocol.TypePong,
		ClientTimeMs: clientTimeMs,
		ServerTimeMs: uint64(time.Now().UnixMilli()),
	}
}

// HashChallenge compares a client's fingerprint against the fingerprint of
// the coordinator's current state; the stateSeq the client computed its
// fingerprint at is not taken into account. If matched == false for HashMismatchDebounce
// consecutive rounds from the same player, the caller should push an
// unsolicited snapshot (spec §4.8, §8 scenario 5).
func (s *Session) HashChallenge(playerID, localHash string) (result protocol.Envelope, needsSnapshot bool) {
	s.enqueue(func() {
		hash := canonhash.Session(s.state)
		matched := hash == localHash
		result = protocol.Envelope{
			Type:     protocol.TypeHashResult,
			Matched:  matched,
			Hash:     hash,
			StateSeq: s.state.StateSeq,
		}
		if matched {
			s.mismatches[playerID] = 0
			return
		}
		if s.metrics != nil {
			s.metrics.HashMismatchesTotal.Inc()
		}
		s.mismatches[playerID]++
		if s.mismatches[playerID] >= HashMismatchDebounce {
			s.mismatches[playerID] = 0
			needsSnapshot = true
		}
	})
	return
}

// Cursor relays an ephemeral, unsequenced presence-adjacent broadcast
// (cursor position) to every other connection. Never persisted, never
// assigned a stateSeq.
func (s *Session) Cursor(originID string, env protocol.Envelope) {
	s.enqueue(func() {
		for id, c := range s.conns {
			if id == originID {
				continue
			}
			trySend(c, env)
		}
	})
}

// NewClientOpID returns an unguessable idempotency token for a mutate
// envelope.
func NewClientOpID() string { return uuid.NewString() }

func trySend(c Conn, env protocol.Envelope) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return c.Send(env)
}
