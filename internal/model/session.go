// Package model holds the Keyboardia session/track data model: the schema
// every coordinator and client mirror agrees on.
package model

// MaxSteps is the fixed storage length of a track's step grid and parameter
// lock grid. It never changes regardless of a track's active stepCount — see
// the doc comment on Track for why.
const MaxSteps = 128

// MaxTracks is the maximum number of tracks a session may hold.
const MaxTracks = 16

// Tempo bounds, beats per minute.
const (
	MinTempo = 20.0
	MaxTempo = 300.0
)

// Swing bounds, percent.
const (
	MinSwing = 0.0
	MaxSwing = 100.0
)

// Track volume bounds.
const (
	MinVolume = 0.0
	MaxVolume = 2.0
)

// Transpose bounds, semitones.
const (
	MinTranspose = -24
	MaxTranspose = 24
)

// Parameter-lock probability bounds, percent.
const (
	MinProbability = 0
	MaxProbability = 100
)

// Parameter-lock retrigger bounds.
const (
	MinRetrigger = 1
	MaxRetrigger = 8
)

// ValidStepCounts is the ordered set of valid "view window" lengths. Kept
// ordered (ascending) so SnapStepCount's linear scan breaks distance ties
// toward the smaller value without a sort.
var ValidStepCounts = []int{4, 8, 12, 16, 24, 32, 64, 96, 128}

// TripletStepCounts marks the step counts that use a triplet (1/6 beat) base
// duration instead of the default 1/4 beat (16th note) base duration.
var TripletStepCounts = map[int]bool{12: true, 24: true, 96: true}

// PlaybackMode is whether a track's sample is cut short by a gate release.
type PlaybackMode string

const (
	PlaybackOneshot PlaybackMode = "oneshot"
	PlaybackGated   PlaybackMode = "gated"
)

// ParameterLock is a per-step override of a track's default playback
// parameters. A nil *ParameterLock means "no lock" for that step.
type ParameterLock struct {
	Pitch       *int     `json:"pitch,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	Probability *int     `json:"probability,omitempty"`
	Retrigger   *int     `json:"retrigger,omitempty"`
	Tie         *bool    `json:"tie,omitempty"`
}

// Clone returns a deep copy, or nil if the receiver is nil.
func (l *ParameterLock) Clone() *ParameterLock {
	if l == nil {
		return nil
	}
	out := &ParameterLock{}
	if l.Pitch != nil {
		v := *l.Pitch
		out.Pitch = &v
	}
	if l.Volume != nil {
		v := *l.Volume
		out.Volume = &v
	}
	if l.Probability != nil {
		v := *l.Probability
		out.Probability = &v
	}
	if l.Retrigger != nil {
		v := *l.Retrigger
		out.Retrigger = &v
	}
	if l.Tie != nil {
		v := *l.Tie
		out.Tie = &v
	}
	return out
}

// Track is one instrument lane in a session.
//
// Steps and ParameterLocks are always exactly MaxSteps long, independent of
// StepCount. StepCount is only a *view window*: playback cycles modulo it,
// and the scheduler only ever reads Steps[i] for i < StepCount. Resizing
// these arrays when StepCount changes would silently discard pattern data
// the moment a user shrinks a track's window — the single most subtle
// invariant in this schema. Every mutation path that touches StepCount must
// leave both arrays at MaxSteps.
type Track struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SampleID     string          `json:"sampleId"`
	Muted        bool            `json:"muted"`   // local-only, never replicated — see doc.go
	Soloed       bool            `json:"soloed"`  // local-only, never replicated — see doc.go
	Volume       float64         `json:"volume"`
	Transpose    int             `json:"transpose"`
	StepCount    int             `json:"stepCount"`
	PlaybackMode PlaybackMode    `json:"playbackMode"`
	Steps        [MaxSteps]bool  `json:"steps"`
	ParameterLocks [MaxSteps]*ParameterLock `json:"parameterLocks"`
}

// NewTrack returns a Track with every field at its documented default.
func NewTrack(id, name, sampleID string) *Track {
	return &Track{
		ID:           id,
		Name:         name,
		SampleID:     sampleID,
		Volume:       1.0,
		Transpose:    0,
		StepCount:    16,
		PlaybackMode: PlaybackOneshot,
	}
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	out := *t
	for i, l := range t.ParameterLocks {
		out.ParameterLocks[i] = l.Clone()
	}
	return &out
}

// CopyPatternFrom overwrites the receiver's steps and parameter locks (all
// MaxSteps positions, always) with a deep copy of src's.
func (t *Track) CopyPatternFrom(src *Track) {
	t.Steps = src.Steps
	for i, l := range src.ParameterLocks {
		t.ParameterLocks[i] = l.Clone()
	}
}

// Clear zeroes every step and parameter lock (all MaxSteps positions).
func (t *Track) Clear() {
	t.Steps = [MaxSteps]bool{}
	t.ParameterLocks = [MaxSteps]*ParameterLock{}
}

// Session is the authoritative, replicated state of one collaborative
// pattern. Effects is an opaque blob — the core never interprets it, only
// stores and replicates it verbatim.
type Session struct {
	SessionID string          `json:"sessionId"`
	Name      *string         `json:"name"`
	Tempo     float64         `json:"tempo"`
	Swing     float64         `json:"swing"`
	Tracks    []*Track        `json:"tracks"`
	Effects   map[string]any  `json:"effects"`
	Version   int             `json:"version"`
	StateSeq  uint64          `json:"stateSeq"`
}

// CurrentSchemaVersion is written into newly created sessions.
const CurrentSchemaVersion = 1

// NewSession returns an empty session with default tempo/swing and no tracks.
func NewSession(sessionID string) *Session {
	return &Session{
		SessionID: sessionID,
		Tempo:     120,
		Swing:     0,
		Tracks:    nil,
		Effects:   map[string]any{},
		Version:   CurrentSchemaVersion,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	if s.Name != nil {
		n := *s.Name
		out.Name = &n
	}
	out.Tracks = make([]*Track, len(s.Tracks))
	for i, t := range s.Tracks {
		out.Tracks[i] = t.Clone()
	}
	out.Effects = cloneEffects(s.Effects)
	return &out
}

func cloneEffects(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TrackByID returns the track with the given id, or nil if absent.
func (s *Session) TrackByID(id string) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TrackIndex returns the index of the track with the given id, or -1.
func (s *Session) TrackIndex(id string) int {
	for i, t := range s.Tracks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
