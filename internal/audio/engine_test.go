package audio

import (
	"testing"
	"time"
)

func TestFrequencyForPitchIsEqualTemperament(t *testing.T) {
	if got := frequencyForPitch(0); got != rootFrequencyHz {
		t.Fatalf("expected root frequency at 0 semitones, got %v", got)
	}
	octaveUp := frequencyForPitch(12)
	if got := octaveUp / rootFrequencyHz; got < 1.99 || got > 2.01 {
		t.Fatalf("expected +12 semitones to double frequency, got ratio %v", got)
	}
}

func TestSamplesFromDuration(t *testing.T) {
	if got := samplesFromDuration(time.Second); got != sampleRate {
		t.Fatalf("expected 1 second == %d samples, got %d", sampleRate, got)
	}
	if got := samplesFromDuration(0); got != 0 {
		t.Fatalf("expected 0 duration == 0 samples, got %d", got)
	}
}

func TestRenderBufferMixesOverlappingNote(t *testing.T) {
	buf := make([]float32, 100)
	notes := []note{{
		trackID:     "t1",
		startSample: 0,
		endSample:   1000,
		frequencyHz: 440,
		velocity:    1.0,
	}}
	renderBuffer(buf, 0, notes)

	silent := true
	for _, s := range buf {
		if s != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Fatalf("expected a note overlapping the whole buffer to produce non-silent output")
	}
}

func TestRenderBufferSkipsNotesOutsideWindow(t *testing.T) {
	buf := make([]float32, 100)
	notes := []note{{
		trackID:     "t1",
		startSample: 10_000,
		endSample:   20_000,
		frequencyHz: 440,
		velocity:    1.0,
	}}
	renderBuffer(buf, 0, notes)

	for i, s := range buf {
		if s != 0 {
			t.Fatalf("expected silence for a note entirely outside the render window, got sample[%d]=%v", i, s)
		}
	}
}

func TestRenderBufferClampsOverlappingNotes(t *testing.T) {
	buf := make([]float32, 512)
	notes := []note{
		{trackID: "a", startSample: 0, endSample: 100_000, frequencyHz: 440, velocity: 1.0},
		{trackID: "b", startSample: 0, endSample: 100_000, frequencyHz: 441, velocity: 1.0},
		{trackID: "c", startSample: 0, endSample: 100_000, frequencyHz: 442, velocity: 1.0},
	}
	renderBuffer(buf, 0, notes)

	for i, s := range buf {
		if s > 1.0 || s < -1.0 {
			t.Fatalf("expected mixed output clamped to [-1,1], got sample[%d]=%v", i, s)
		}
	}
}

func TestDropFinishedRemovesNotesEndedBeforeHorizon(t *testing.T) {
	notes := []note{
		{trackID: "done", startSample: 0, endSample: 100},
		{trackID: "live", startSample: 0, endSample: 10_000},
	}
	kept := dropFinished(notes, 500)
	if len(kept) != 1 || kept[0].trackID != "live" {
		t.Fatalf("expected only the still-sounding note to survive, got %+v", kept)
	}
}

func TestScheduleNoteAndCancelScheduledAfter(t *testing.T) {
	e := New()
	e.ScheduleNote("t1", "kick", 0, 0, 1.0, 100*time.Millisecond)
	e.ScheduleNote("t1", "kick", time.Second, 0, 1.0, 100*time.Millisecond)
	e.ScheduleNote("t2", "snare", time.Second, 0, 1.0, 100*time.Millisecond)

	if got := len(e.pending); got != 3 {
		t.Fatalf("expected 3 pending notes, got %d", got)
	}

	e.CancelScheduledAfter("t1", 500*time.Millisecond)

	if got := len(e.pending); got != 2 {
		t.Fatalf("expected t1's future note cancelled, got %d pending", got)
	}
	for _, n := range e.pending {
		if n.trackID == "t1" && n.startSample >= samplesFromDuration(500*time.Millisecond) {
			t.Fatalf("expected t1's late note to be cancelled, found %+v", n)
		}
	}
}

func TestNowReflectsClockSamples(t *testing.T) {
	e := New()
	e.clock.Store(sampleRate) // 1 second of samples written
	if got := e.Now(); got < 990*time.Millisecond || got > 1010*time.Millisecond {
		t.Fatalf("expected Now() near 1s, got %v", got)
	}
}
