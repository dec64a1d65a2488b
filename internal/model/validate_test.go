package model

import "testing"

func TestValidateAndRepairClampsOutOfRange(t *testing.T) {
	s := NewSession("sess-1")
	s.Tempo = 1000
	s.Swing = -5
	tr := NewTrack("t1", "kick", "909-kick")
	tr.Volume = 5
	tr.Transpose = 50
	tr.StepCount = 3
	s.Tracks = append(s.Tracks, tr)

	repairs := ValidateAndRepair(s)
	if len(repairs) == 0 {
		t.Fatalf("expected repairs to be reported")
	}
	if s.Tempo != MaxTempo {
		t.Errorf("tempo = %v, want %v", s.Tempo, MaxTempo)
	}
	if s.Swing != MinSwing {
		t.Errorf("swing = %v, want %v", s.Swing, MinSwing)
	}
	if tr.Volume != MaxVolume {
		t.Errorf("volume = %v, want %v", tr.Volume, MaxVolume)
	}
	if tr.Transpose != MaxTranspose {
		t.Errorf("transpose = %v, want %v", tr.Transpose, MaxTranspose)
	}
	if tr.StepCount != 4 {
		t.Errorf("stepCount = %v, want 4 (nearest valid to 3)", tr.StepCount)
	}
}

func TestValidateAndRepairDedupesTrackIDs(t *testing.T) {
	s := NewSession("sess-1")
	s.Tracks = []*Track{
		NewTrack("dup", "a", "s1"),
		NewTrack("dup", "b", "s2"),
		NewTrack("unique", "c", "s3"),
	}
	ValidateAndRepair(s)
	if len(s.Tracks) != 2 {
		t.Fatalf("expected duplicate dropped, got %d tracks", len(s.Tracks))
	}
	if s.Tracks[0].Name != "a" {
		t.Errorf("expected first occurrence kept, got %q", s.Tracks[0].Name)
	}
}

func TestValidateAndRepairEnforcesMaxTracks(t *testing.T) {
	s := NewSession("sess-1")
	for i := 0; i < MaxTracks+3; i++ {
		s.Tracks = append(s.Tracks, NewTrack(string(rune('a'+i)), "x", "s"))
	}
	ValidateAndRepair(s)
	if len(s.Tracks) != MaxTracks {
		t.Fatalf("expected %d tracks, got %d", MaxTracks, len(s.Tracks))
	}
}

func TestValidateAndRepairClampsParameterLock(t *testing.T) {
	s := NewSession("sess-1")
	tr := NewTrack("t1", "kick", "909-kick")
	pitch := 99
	prob := -10
	tr.ParameterLocks[0] = &ParameterLock{Pitch: &pitch, Probability: &prob}
	s.Tracks = append(s.Tracks, tr)

	ValidateAndRepair(s)
	if *tr.ParameterLocks[0].Pitch != MaxTranspose {
		t.Errorf("pitch = %v, want %v", *tr.ParameterLocks[0].Pitch, MaxTranspose)
	}
	if *tr.ParameterLocks[0].Probability != MinProbability {
		t.Errorf("probability = %v, want %v", *tr.ParameterLocks[0].Probability, MinProbability)
	}
}

func TestSnapStepCountTiesTowardSmaller(t *testing.T) {
	// 10 is equidistant between 8 and 12; must snap to 8.
	if got := SnapStepCount(10); got != 8 {
		t.Errorf("SnapStepCount(10) = %d, want 8", got)
	}
}

func TestStepWindowShrinkGrowRoundTrip(t *testing.T) {
	s := NewSession("sess-1")
	tr := NewTrack("t1", "kick", "909-kick")
	tr.Steps[100] = true
	tr.StepCount = 128
	s.Tracks = append(s.Tracks, tr)

	before := tr.Steps

	tr.StepCount = 64
	ValidateAndRepair(s)
	if tr.Steps != before {
		t.Fatalf("steps mutated on shrink to view window 64")
	}

	tr.StepCount = 128
	ValidateAndRepair(s)
	if tr.Steps != before {
		t.Fatalf("steps mutated on grow back to 128")
	}
	if !tr.Steps[100] {
		t.Fatalf("step 100 lost across shrink/grow round trip")
	}
}
