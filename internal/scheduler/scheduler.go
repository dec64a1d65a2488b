// Package scheduler implements the client-side look-ahead audio scheduler
// of spec §4.7: a periodic tick that advances each track's play cursor and
// emits note events onto an opaque audio clock, mapped through the
// coordinator-wall-time estimate from internal/clocksync.
package scheduler

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/adewale/keyboardia/internal/clocksync"
	"github.com/adewale/keyboardia/internal/model"
)

// Timing parameters (spec §4.7).
const (
	TickInterval       = 25 * time.Millisecond
	Lookahead          = 100 * time.Millisecond
	ScheduleAheadFloor = 20 * time.Millisecond
)

// AudioClock is the opaque synthesis/audio-clock boundary the scheduler
// dispatches onto. The scheduler owns timing and musical logic only; what
// happens to a scheduled note is entirely the implementation's concern
// (spec §1's "opaque audio module" out-of-scope boundary).
type AudioClock interface {
	// Now returns the audio engine's own clock position.
	Now() time.Duration
	// ScheduleNote queues a note event at audioTime.
	ScheduleNote(trackID, sampleID string, audioTime time.Duration, pitch int, velocity float64, duration time.Duration)
	// CancelScheduledAfter cancels any events already scheduled for
	// trackID at or beyond audioTime, used when a tempo/swing/stepCount
	// change invalidates the existing schedule (spec §4.7 "Tempo/pattern
	// changes during playback").
	CancelScheduledAfter(trackID string, audioTime time.Duration)
}

// MirrorFunc reads the current local session mirror. Normally
// internal/clientsync.Reducer.Mirror.
type MirrorFunc func() *model.Session

// trackCursor is the per-track playback position. Tracks are scheduled
// independently (not off one session-wide step clock) because triplet
// step counts (12, 24, 96) use a different per-step wall-clock duration
// than the default 16th-note grid — see the DESIGN.md note on this
// package for why a single shared "scheduled wall time per step" cannot
// serve both bases at once.
type trackCursor struct {
	nextStep     int     // next step index (since this cursor's anchor) not yet scheduled
	anchorStep   int     // step index corresponding to anchorWallMs
	anchorWallMs float64 // coordinator wall time, ms, of anchorStep
	stepDurMs    float64 // current per-step duration for this track
}

// Scheduler drives one client's local playhead. "My ears, my control": it
// reads only the local isPlaying flag and per-track muted/soloed fields —
// no coordinator message starts or stops it.
type Scheduler struct {
	clock  *clocksync.Estimator
	audio  AudioClock
	mirror MirrorFunc

	mu        sync.Mutex
	isPlaying bool
	cursors   map[string]*trackCursor
}

// New returns a Scheduler that reads state via mirror and schedules onto
// audio, using clock for the coordinator-wall-time estimate.
func New(clock *clocksync.Estimator, audio AudioClock, mirror MirrorFunc) *Scheduler {
	return &Scheduler{
		clock:   clock,
		audio:   audio,
		mirror:  mirror,
		cursors: make(map[string]*trackCursor),
	}
}

// Start begins playback and resets every track cursor. nowWallMs is not
// used: each track's step 0 is anchored to the coordinator wall time of the
// first Tick that sees that track.
func (s *Scheduler) Start(nowWallMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPlaying = true
	s.cursors = make(map[string]*trackCursor)
	_ = nowWallMs // each track's cursor is lazily anchored on first tick, see tickLocked
}

// Stop halts playback. A remote Stop from another participant must never
// reach this method directly — only the local UI may call it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isPlaying = false
}

// IsPlaying reports the local playback state.
func (s *Scheduler) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPlaying
}

// Run blocks, ticking every TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one pass of the per-tick algorithm (spec §4.7): for each track,
// schedule every step whose wall time now falls within the lookahead
// horizon.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isPlaying {
		return
	}

	sess := s.mirror()
	nowWallMs := float64(s.clock.CoordinatorNowMs())
	horizonMs := nowWallMs + float64(Lookahead.Milliseconds())
	anySoloed := anyTrackSoloed(sess.Tracks)

	for _, track := range sess.Tracks {
		s.tickTrackLocked(track, sess, nowWallMs, horizonMs, anySoloed)
	}
}

func (s *Scheduler) tickTrackLocked(track *model.Track, sess *model.Session, nowWallMs, horizonMs float64, anySoloed bool) {
	dur := stepDurationMs(sess.Tempo, track.StepCount)
	cur, ok := s.cursors[track.ID]
	if !ok {
		cur = &trackCursor{anchorWallMs: nowWallMs, stepDurMs: dur}
		s.cursors[track.ID] = cur
	}

	for {
		stepWallMs := cur.anchorWallMs + float64(cur.nextStep-cur.anchorStep)*cur.stepDurMs
		stepWallMs += swingShiftMs(sess.Swing, cur.stepDurMs, cur.nextStep)
		if stepWallMs > horizonMs {
			break
		}
		s.scheduleStepEvents(track, cur.nextStep, stepWallMs, cur.stepDurMs, anySoloed, nowWallMs)
		cur.nextStep++
	}
}

func (s *Scheduler) scheduleStepEvents(track *model.Track, stepIdx int, stepWallMs, stepDurMs float64, anySoloed bool, nowWallMs float64) {
	if track.StepCount <= 0 {
		return
	}
	trackStep := stepIdx % track.StepCount
	if !track.Steps[trackStep] {
		return
	}

	lock := track.ParameterLocks[trackStep]
	if !rollsProbability(lock) {
		return
	}

	muted := track.Muted || (anySoloed && !track.Soloed)
	if muted {
		return
	}

	pitch := track.Transpose
	if lock != nil && lock.Pitch != nil {
		pitch += *lock.Pitch
	}
	velocity := track.Volume
	if lock != nil && lock.Volume != nil {
		velocity *= *lock.Volume
	}

	tie := lock != nil && lock.Tie != nil && *lock.Tie
	durationMs := stepDurMs
	retrigger := 1
	if tie {
		// Tie takes precedence over retrigger for sustained notes
		// (spec §9's open question, resolved this way).
		durationMs = stepDurMs * float64(contiguousTieLength(track, trackStep))
	} else if lock != nil && lock.Retrigger != nil {
		retrigger = *lock.Retrigger
	}

	for k := 0; k < retrigger; k++ {
		eventWallMs := stepWallMs + float64(k)*(stepDurMs/float64(retrigger))
		audioTime, drop := s.mapWallToAudio(eventWallMs, nowWallMs, k > 0)
		if drop {
			continue
		}
		s.audio.ScheduleNote(track.ID, track.SampleID, audioTime, pitch, velocity, time.Duration(durationMs*float64(time.Millisecond)))
	}
}

// mapWallToAudio converts a coordinator wall time to a point on the audio
// clock (spec §4.7's "Audio-time mapping"). A genuinely late primary note
// is quantized to audio.now()+scheduleAheadFloor; a late retrigger
// subdivision is dropped instead, since firing it out of its intended
// slot relative to the other subdivisions would sound wrong.
func (s *Scheduler) mapWallToAudio(eventWallMs, nowWallMs float64, isRetriggerSubdivision bool) (audioTime time.Duration, drop bool) {
	deltaMs := eventWallMs - nowWallMs
	now := s.audio.Now()
	audioTime = now + time.Duration(deltaMs*float64(time.Millisecond))
	floor := now + ScheduleAheadFloor
	if audioTime >= floor {
		return audioTime, false
	}
	if isRetriggerSubdivision {
		return 0, true
	}
	return floor, false
}

// Rebase recomputes a single track's anchor so its currently-playing step
// is preserved at its current audio position, and cancels anything already
// scheduled beyond the new floor (spec §4.7 "Tempo/pattern changes during
// playback"). Call this whenever tempo, swing, or a playing track's own
// stepCount changes.
func (s *Scheduler) Rebase(trackID string, sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isPlaying {
		return
	}
	track := sess.TrackByID(trackID)
	if track == nil {
		return
	}

	nowWallMs := float64(s.clock.CoordinatorNowMs())
	newDur := stepDurationMs(sess.Tempo, track.StepCount)

	cur, ok := s.cursors[trackID]
	if !ok {
		s.cursors[trackID] = &trackCursor{anchorWallMs: nowWallMs, stepDurMs: newDur}
		return
	}

	elapsedSteps := float64(cur.anchorStep)
	if cur.stepDurMs > 0 {
		elapsedSteps += (nowWallMs - cur.anchorWallMs) / cur.stepDurMs
	}
	currentStep := int(math.Floor(elapsedSteps))
	if currentStep < cur.anchorStep {
		currentStep = cur.anchorStep
	}

	s.audio.CancelScheduledAfter(trackID, s.audio.Now()+ScheduleAheadFloor)

	cur.anchorWallMs = nowWallMs
	cur.anchorStep = currentStep
	cur.stepDurMs = newDur
	cur.nextStep = currentStep + 1 // the preserved step already sounded; don't refire it
}

// RebaseAll rebases every track, for a session-wide change (tempo, swing).
func (s *Scheduler) RebaseAll(sess *model.Session) {
	for _, t := range sess.Tracks {
		s.Rebase(t.ID, sess)
	}
}

func anyTrackSoloed(tracks []*model.Track) bool {
	for _, t := range tracks {
		if t.Soloed {
			return true
		}
	}
	return false
}

func rollsProbability(lock *model.ParameterLock) bool {
	if lock == nil || lock.Probability == nil {
		return true
	}
	p := *lock.Probability
	if p >= 100 {
		return true
	}
	if p <= 0 {
		return false
	}
	return rand.IntN(100) < p
}

// contiguousTieLength counts how many consecutive active steps starting at
// trackStep (wrapping at the track's stepCount) carry a tie lock, so a tied
// note's duration spans the whole run. The run always includes trackStep
// itself, so the minimum return is 1.
func contiguousTieLength(track *model.Track, trackStep int) int {
	if track.StepCount <= 0 {
		return 1
	}
	count := 1
	i := trackStep
	for {
		next := (i + 1) % track.StepCount
		if next == trackStep {
			break
		}
		if !track.Steps[next] {
			break
		}
		lock := track.ParameterLocks[next]
		if lock == nil || lock.Tie == nil || !*lock.Tie {
			break
		}
		count++
		i = next
	}
	return count
}

// stepDurationMs returns the wall-clock duration of one step for a track
// with the given stepCount, at the given tempo (spec §4.7 "Timing
// formulas"): 16th notes by default, or a triplet (1/6 beat) base for
// stepCount in {12, 24, 96}.
func stepDurationMs(tempoBPM float64, stepCount int) float64 {
	var beatsPerStep float64 = 1.0 / 4.0
	if model.TripletStepCounts[stepCount] {
		beatsPerStep = 1.0 / 6.0
	}
	secondsPerBeat := 60.0 / tempoBPM
	return secondsPerBeat * beatsPerStep * 1000.0
}

// swingShiftMs returns the delay applied to odd-indexed steps: swing shifts
// every odd step by stepDuration × swing/200, so 100% swing is a hard
// triplet feel (spec §4.7 "Timing formulas").
func swingShiftMs(swingPercent, stepDurMs float64, stepIdx int) float64 {
	if stepIdx%2 == 0 {
		return 0
	}
	return stepDurMs * swingPercent / 200.0
}
