package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/adewale/keyboardia/internal/clocksync"
	"github.com/adewale/keyboardia/internal/model"
)

type noteEvent struct {
	trackID, sampleID string
	audioTime         time.Duration
	pitch             int
	velocity          float64
	duration          time.Duration
}

type cancelCall struct {
	trackID   string
	audioTime time.Duration
}

type fakeAudio struct {
	mu      sync.Mutex
	now     time.Duration
	events  []noteEvent
	cancels []cancelCall
}

func (f *fakeAudio) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeAudio) ScheduleNote(trackID, sampleID string, audioTime time.Duration, pitch int, velocity float64, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, noteEvent{trackID, sampleID, audioTime, pitch, velocity, duration})
}

func (f *fakeAudio) CancelScheduledAfter(trackID string, audioTime time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, cancelCall{trackID, audioTime})
}

func (f *fakeAudio) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTrackWithStep0(id string, tempoTrackStepCount int) *model.Track {
	tr := model.NewTrack(id, "kick", "sample-1")
	tr.StepCount = tempoTrackStepCount
	tr.Steps[0] = true
	return tr
}

func testSession(tracks ...*model.Track) *model.Session {
	return &model.Session{SessionID: "s1", Tempo: 120, Swing: 0, Tracks: tracks}
}

func TestStepDurationMsDefaultAndTriplet(t *testing.T) {
	if got := stepDurationMs(120, 16); got != 125.0 {
		t.Fatalf("expected 125ms at 120bpm 16-step, got %v", got)
	}
	if got := stepDurationMs(120, 24); got <= 0 || got >= 125.0 {
		t.Fatalf("expected triplet duration shorter than 16th-note base, got %v", got)
	}
	want := 60.0 / 120.0 / 6.0 * 1000.0
	if got := stepDurationMs(120, 12); got != want {
		t.Fatalf("expected triplet base %v, got %v", want, got)
	}
}

func TestSwingShiftMs(t *testing.T) {
	if got := swingShiftMs(50, 100, 0); got != 0 {
		t.Fatalf("expected no shift on even step, got %v", got)
	}
	if got := swingShiftMs(50, 100, 1); got != 25 {
		t.Fatalf("expected 25ms shift at 50%% swing on odd step, got %v", got)
	}
}

func TestContiguousTieLength(t *testing.T) {
	tr := model.NewTrack("t1", "kick", "s1")
	tr.StepCount = 8
	tie := true
	for i := 0; i < 3; i++ {
		tr.Steps[i] = true
		tr.ParameterLocks[i] = &model.ParameterLock{Tie: &tie}
	}
	tr.Steps[3] = true // active but not tied; breaks the run

	if got := contiguousTieLength(tr, 0); got != 3 {
		t.Fatalf("expected run of 3 tied steps, got %d", got)
	}
	if got := contiguousTieLength(tr, 3); got != 1 {
		t.Fatalf("expected untied step to report length 1, got %d", got)
	}
}

func TestTickSchedulesActiveStepWithinLookahead(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 1 {
		t.Fatalf("expected exactly 1 scheduled event on first tick, got %d", n)
	}
	ev := audio.events[0]
	if ev.trackID != "t1" || ev.sampleID != "sample-1" {
		t.Fatalf("unexpected event identity: %+v", ev)
	}
	if ev.pitch != track.Transpose {
		t.Fatalf("expected pitch == track transpose with no lock, got %d", ev.pitch)
	}
	if ev.velocity != track.Volume {
		t.Fatalf("expected velocity == track volume with no lock, got %v", ev.velocity)
	}
}

func TestTickSkipsInactiveStep(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := model.NewTrack("t1", "kick", "sample-1")
	track.StepCount = 16 // Steps all false
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 0 {
		t.Fatalf("expected no events for an all-inactive track, got %d", n)
	}
}

func TestTickMutedTrackProducesNoEvents(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	track.Muted = true
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 0 {
		t.Fatalf("expected muted track to produce no events, got %d", n)
	}
}

func TestTickSoloFiltersOutNonSoloedTracks(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	soloed := newTrackWithStep0("solo", 16)
	soloed.Soloed = true
	quiet := newTrackWithStep0("quiet", 16)
	sess := testSession(soloed, quiet)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 1 {
		t.Fatalf("expected only the soloed track to sound, got %d events", n)
	}
	if audio.events[0].trackID != "solo" {
		t.Fatalf("expected soloed track's event, got %s", audio.events[0].trackID)
	}
}

func TestTickAppliesParameterLockPitchAndVolume(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	pitch := 7
	volume := 0.5
	prob := 100
	track.ParameterLocks[0] = &model.ParameterLock{Pitch: &pitch, Volume: &volume, Probability: &prob}
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	ev := audio.events[0]
	if ev.pitch != track.Transpose+pitch {
		t.Fatalf("expected pitch %d, got %d", track.Transpose+pitch, ev.pitch)
	}
	if ev.velocity != track.Volume*volume {
		t.Fatalf("expected velocity %v, got %v", track.Volume*volume, ev.velocity)
	}
}

func TestTickZeroProbabilitySkipsStep(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	prob := 0
	track.ParameterLocks[0] = &model.ParameterLock{Probability: &prob}
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 0 {
		t.Fatalf("expected 0%% probability to always skip, got %d events", n)
	}
}

func TestTickRetriggerEmitsMultipleEvents(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	retrig := 4
	track.ParameterLocks[0] = &model.ParameterLock{Retrigger: &retrig}
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 4 {
		t.Fatalf("expected 4 retrigger events, got %d", n)
	}
}

func TestTickTieOverridesRetrigger(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	track.Steps[1] = true
	retrig := 4
	tie := true
	track.ParameterLocks[0] = &model.ParameterLock{Retrigger: &retrig, Tie: &tie}
	track.ParameterLocks[1] = &model.ParameterLock{Tie: &tie} // extend the tie run to 2 steps
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	if n := audio.eventCount(); n != 1 {
		t.Fatalf("expected tie to suppress retrigger subdivisions, got %d events", n)
	}
	dur := stepDurationMs(sess.Tempo, track.StepCount)
	want := time.Duration(dur * 2 * float64(time.Millisecond))
	if audio.events[0].duration != want {
		t.Fatalf("expected tied duration spanning 2 steps (%v), got %v", want, audio.events[0].duration)
	}
}

func TestRebaseCancelsScheduledEventsAndAdvancesCursor(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{}
	track := newTrackWithStep0("t1", 16)
	sess := testSession(track)

	s := New(clock, audio, func() *model.Session { return sess })
	s.Start(clock.CoordinatorNowMs())
	s.Tick()

	sess.Tempo = 140
	s.Rebase("t1", sess)

	if len(audio.cancels) != 1 {
		t.Fatalf("expected Rebase to cancel once, got %d", len(audio.cancels))
	}
	if audio.cancels[0].trackID != "t1" {
		t.Fatalf("expected cancel for t1, got %s", audio.cancels[0].trackID)
	}
}

func TestMapWallToAudioQuantizesLatePrimaryNote(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{now: 0}
	s := New(clock, audio, func() *model.Session { return nil })

	audioTime, drop := s.mapWallToAudio(-500, 0, false)
	if drop {
		t.Fatalf("expected a late primary note to be quantized, not dropped")
	}
	if audioTime != ScheduleAheadFloor {
		t.Fatalf("expected quantized to scheduleAheadFloor, got %v", audioTime)
	}
}

func TestMapWallToAudioDropsLateRetriggerSubdivision(t *testing.T) {
	clock := clocksync.NewEstimator()
	audio := &fakeAudio{now: 0}
	s := New(clock, audio, func() *model.Session { return nil })

	_, drop := s.mapWallToAudio(-500, 0, true)
	if !drop {
		t.Fatalf("expected a late retrigger subdivision to be dropped")
	}
}
