package mutate

import (
	"encoding/json"
	"testing"

	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/protocol"
)

func newSessWithTrack(t *testing.T, id string) *model.Session {
	t.Helper()
	s := model.NewSession("sess-1")
	s.Tracks = append(s.Tracks, model.NewTrack(id, "kick", "909-kick"))
	return s
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestApplyToggleStepFlipsValue(t *testing.T) {
	s := newSessWithTrack(t, "t1")
	payload := marshal(t, protocol.ToggleStepPayload{TrackID: "t1", Step: 3})

	if err := Apply(s, protocol.OpToggleStep, payload); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !s.Tracks[0].Steps[3] {
		t.Fatalf("expected step 3 toggled true")
	}

	if err := Apply(s, protocol.OpToggleStep, payload); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.Tracks[0].Steps[3] {
		t.Fatalf("expected step 3 toggled back to false")
	}
}

func TestApplyUnknownTrackReturnsError(t *testing.T) {
	s := model.NewSession("sess-1")
	payload := marshal(t, protocol.ToggleStepPayload{TrackID: "missing", Step: 0})
	if err := Apply(s, protocol.OpToggleStep, payload); err == nil {
		t.Fatalf("expected error for unknown track")
	}
}

func TestApplyAddTrackRejectsDuplicateID(t *testing.T) {
	s := newSessWithTrack(t, "t1")
	payload := marshal(t, protocol.AddTrackPayload{
		Track: protocol.TrackPayload{ID: "t1", Name: "snare", SampleID: "909-snare"},
	})
	if err := Apply(s, protocol.OpAddTrack, payload); err == nil {
		t.Fatalf("expected error for duplicate track id")
	}
}

func TestApplyAddTrackRejectsOverMaxTracks(t *testing.T) {
	s := model.NewSession("sess-1")
	for i := 0; i < model.MaxTracks; i++ {
		s.Tracks = append(s.Tracks, model.NewTrack(string(rune('a'+i)), "t", "s"))
	}
	payload := marshal(t, protocol.AddTrackPayload{
		Track: protocol.TrackPayload{ID: "overflow", Name: "x", SampleID: "x"},
	})
	if err := Apply(s, protocol.OpAddTrack, payload); err == nil {
		t.Fatalf("expected error when exceeding MaxTracks")
	}
}

func TestApplySetTrackStepCountDoesNotResizeSteps(t *testing.T) {
	s := newSessWithTrack(t, "t1")
	s.Tracks[0].Steps[10] = true

	shrink := marshal(t, protocol.SetTrackStepCountPayload{TrackID: "t1", StepCount: 4})
	if err := Apply(s, protocol.OpSetTrackStepCount, shrink); err != nil {
		t.Fatalf("Apply shrink: %v", err)
	}
	if s.Tracks[0].StepCount != 4 {
		t.Fatalf("expected stepCount=4, got %d", s.Tracks[0].StepCount)
	}
	if !s.Tracks[0].Steps[10] {
		t.Fatalf("expected step 10 data preserved out-of-window after shrink")
	}

	grow := marshal(t, protocol.SetTrackStepCountPayload{TrackID: "t1", StepCount: 16})
	if err := Apply(s, protocol.OpSetTrackStepCount, grow); err != nil {
		t.Fatalf("Apply grow: %v", err)
	}
	if !s.Tracks[0].Steps[10] {
		t.Fatalf("expected step 10 restored after growing back")
	}
}

func TestApplyMoveTrackReorders(t *testing.T) {
	s := model.NewSession("sess-1")
	s.Tracks = append(s.Tracks,
		model.NewTrack("a", "a", "a"),
		model.NewTrack("b", "b", "b"),
		model.NewTrack("c", "c", "c"),
	)
	payload := marshal(t, protocol.MoveTrackPayload{TrackID: "a", ToIndex: 2})
	if err := Apply(s, protocol.OpMoveTrack, payload); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := []string{s.Tracks[0].ID, s.Tracks[1].ID, s.Tracks[2].ID}
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestApplyCopyTrackPatternCopiesSteps(t *testing.T) {
	s := model.NewSession("sess-1")
	s.Tracks = append(s.Tracks, model.NewTrack("a", "a", "a"), model.NewTrack("b", "b", "b"))
	s.Tracks[0].Steps[0] = true
	s.Tracks[0].Steps[5] = true

	payload := marshal(t, protocol.CopyTrackPatternPayload{FromID: "a", ToID: "b"})
	if err := Apply(s, protocol.OpCopyTrackPattern, payload); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !s.Tracks[1].Steps[0] || !s.Tracks[1].Steps[5] {
		t.Fatalf("expected pattern copied to track b")
	}
}

func TestApplySetTempoAndSwing(t *testing.T) {
	s := model.NewSession("sess-1")
	if err := Apply(s, protocol.OpSetTempo, marshal(t, protocol.SetTempoPayload{BPM: 140})); err != nil {
		t.Fatalf("Apply tempo: %v", err)
	}
	if s.Tempo != 140 {
		t.Fatalf("expected tempo=140, got %v", s.Tempo)
	}
	if err := Apply(s, protocol.OpSetSwing, marshal(t, protocol.SetSwingPayload{Percent: 50})); err != nil {
		t.Fatalf("Apply swing: %v", err)
	}
	if s.Swing != 50 {
		t.Fatalf("expected swing=50, got %v", s.Swing)
	}
}

func TestApplyUnknownOpReturnsError(t *testing.T) {
	s := model.NewSession("sess-1")
	if err := Apply(s, "not_a_real_op", json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
