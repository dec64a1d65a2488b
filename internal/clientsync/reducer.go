// Package clientsync implements the client-side state reducer of spec §4.5:
// a local mirror of session state plus a shadow of pending local mutations,
// kept consistent with the coordinator's authoritative state via the four
// apply rules (local emit, remote applied, snapshot, nack rollback).
package clientsync

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/mutate"
)

// PendingOp is one locally-emitted mutation awaiting coordinator
// confirmation, held in submission order.
type PendingOp struct {
	ClientOpID string
	Op         string
	Payload    json.RawMessage
}

// Reducer owns one client's local mirror. All methods are safe for
// concurrent use; callers on the UI goroutine and the transport's read-pump
// goroutine both call into the same Reducer.
type Reducer struct {
	mu sync.Mutex

	mirror       *model.Session
	lastSnapshot *model.Session
	pending      []PendingOp
}

// NewReducer starts a reducer from an initial snapshot, typically the one
// received in response to `hello`.
func NewReducer(initial *model.Session) *Reducer {
	return &Reducer{
		mirror:       initial.Clone(),
		lastSnapshot: initial.Clone(),
	}
}

// Mirror returns a deep copy of the current local state, safe for the
// caller (scheduler, UI) to read without further locking.
func (r *Reducer) Mirror() *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mirror.Clone()
}

// PendingCount reports how many local mutations are awaiting confirmation.
func (r *Reducer) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// LocalEmit applies op optimistically to the mirror and records it as
// pending (spec §4.5 rule 1). The caller sends {op, payload, clientOpId} as
// a mutate envelope; LocalEmit does not touch the network.
func (r *Reducer) LocalEmit(clientOpID, op string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := mutate.Apply(r.mirror, op, payload); err != nil {
		return fmt.Errorf("local apply %s: %w", op, err)
	}
	model.ValidateAndRepair(r.mirror)
	r.pending = append(r.pending, PendingOp{ClientOpID: clientOpID, Op: op, Payload: payload})
	return nil
}

// OnAck confirms a previously-emitted local mutation (the coordinator's
// `ack` envelope). The mirror was already updated optimistically at emit
// time, so this only retires the pending entry and adopts the authoritative
// seq (spec §4.5 rule 2, "the mirror is already correct; no-op").
func (r *Reducer) OnAck(clientOpID string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.popPending(clientOpID)
	r.mirror.StateSeq = seq
}

// OnApplied applies a remote player's confirmed mutation to the mirror
// (spec §4.5 rule 2, the "otherwise" branch — applied broadcasts never
// target their own originator under this protocol, so every call here is a
// genuinely remote op).
func (r *Reducer) OnApplied(op string, payload json.RawMessage, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := mutate.Apply(r.mirror, op, payload); err != nil {
		return fmt.Errorf("remote apply %s: %w", op, err)
	}
	model.ValidateAndRepair(r.mirror)
	r.mirror.StateSeq = seq
	return nil
}

// OnNack rolls the mirror back to last-known-good-snapshot plus the
// remaining pending ops with the nacked entry removed, and returns a
// user-facing error describing why (spec §4.5 rule 4).
func (r *Reducer) OnNack(clientOpID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.popPending(clientOpID)
	r.replayFromSnapshotLocked()
	return fmt.Errorf("mutation %s rejected: %s", clientOpID, reason)
}

// OnSnapshot replaces the mirror wholesale, preserving each track's
// local-only muted/soloed fields by id, then replays any still-pending
// local mutations on top (spec §4.5 rule 3, §4.8 "Snapshot Application").
func (r *Reducer) OnSnapshot(snap *model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	localFlags := make(map[string]struct{ Muted, Soloed bool }, len(r.mirror.Tracks))
	for _, t := range r.mirror.Tracks {
		localFlags[t.ID] = struct{ Muted, Soloed bool }{t.Muted, t.Soloed}
	}

	r.lastSnapshot = snap.Clone()
	r.mirror = snap.Clone()
	for _, t := range r.mirror.Tracks {
		if f, ok := localFlags[t.ID]; ok {
			t.Muted = f.Muted
			t.Soloed = f.Soloed
		}
	}
	r.replayFromSnapshotLocked()
}

// replayFromSnapshotLocked rebuilds r.mirror as lastSnapshot plus every
// remaining pending op applied in submission order, preserving local-only
// per-track fields across the rebuild. Called with mu held.
func (r *Reducer) replayFromSnapshotLocked() {
	localFlags := make(map[string]struct{ Muted, Soloed bool }, len(r.mirror.Tracks))
	for _, t := range r.mirror.Tracks {
		localFlags[t.ID] = struct{ Muted, Soloed bool }{t.Muted, t.Soloed}
	}

	rebuilt := r.lastSnapshot.Clone()
	for _, p := range r.pending {
		_ = mutate.Apply(rebuilt, p.Op, p.Payload)
	}
	model.ValidateAndRepair(rebuilt)
	for _, t := range rebuilt.Tracks {
		if f, ok := localFlags[t.ID]; ok {
			t.Muted = f.Muted
			t.Soloed = f.Soloed
		}
	}
	r.mirror = rebuilt
}

// popPending removes the pending entry with the given id, wherever it is in
// the list. Must be called with mu held.
func (r *Reducer) popPending(clientOpID string) {
	for i, p := range r.pending {
		if p.ClientOpID == clientOpID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}
