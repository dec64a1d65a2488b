package protocol

import "github.com/adewale/keyboardia/internal/model"

// Op names, matching the "op" field of a mutate Envelope.
const (
	OpToggleStep          = "toggle_step"
	OpSetParameterLock    = "set_parameter_lock"
	OpAddTrack            = "add_track"
	OpDeleteTrack         = "delete_track"
	OpMoveTrack           = "move_track"
	OpSetTrackName        = "set_track_name"
	OpSetTrackSample      = "set_track_sample"
	OpSetTrackVolume      = "set_track_volume"
	OpSetTrackTranspose   = "set_track_transpose"
	OpSetTrackStepCount   = "set_track_step_count"
	OpSetTrackPlaybackMode = "set_track_playback_mode"
	OpClearTrack          = "clear_track"
	OpCopyTrackPattern    = "copy_track_pattern"
	OpSetTempo            = "set_tempo"
	OpSetSwing            = "set_swing"
	OpSetSessionName      = "set_session_name"
	OpSetEffects          = "set_effects"
)

// ParameterLockPayload mirrors model.ParameterLock for wire transport; a nil
// *ParameterLockPayload inside SetParameterLockPayload.Lock clears the lock.
// Pitch, Volume, Probability, and Retrigger carry no range validation tag:
// out-of-range values are clamped by ValidateAndRepair after Apply, not
// rejected (spec §3.2, §7).
type ParameterLockPayload struct {
	Pitch       *int     `json:"pitch,omitempty"`
	Volume      *float64 `json:"volume,omitempty"`
	Probability *int     `json:"probability,omitempty"`
	Retrigger   *int     `json:"retrigger,omitempty"`
	Tie         *bool    `json:"tie,omitempty"`
}

func (p *ParameterLockPayload) toModel() *model.ParameterLock {
	if p == nil {
		return nil
	}
	return &model.ParameterLock{
		Pitch:       p.Pitch,
		Volume:      p.Volume,
		Probability: p.Probability,
		Retrigger:   p.Retrigger,
		Tie:         p.Tie,
	}
}

// ToModel converts a wire lock payload into a model.ParameterLock. A nil
// payload (the JSON literal null) converts to a nil lock, i.e. "clear".
func (p *ParameterLockPayload) ToModel() *model.ParameterLock { return p.toModel() }

type ToggleStepPayload struct {
	TrackID string `json:"trackId" validate:"required"`
	Step    int    `json:"step" validate:"gte=0,lt=128"`
}

type SetParameterLockPayload struct {
	TrackID string                `json:"trackId" validate:"required"`
	Step    int                   `json:"step" validate:"gte=0,lt=128"`
	Lock    *ParameterLockPayload `json:"lock"`
}

// Volume and Transpose carry no range validation tag: out-of-range values
// are clamped by ValidateAndRepair, not rejected (spec §3.2, §7), matching
// StepCount which already snaps via SnapStepCount.
type TrackPayload struct {
	ID           string  `json:"id" validate:"required"`
	Name         string  `json:"name" validate:"required,max=64"`
	SampleID     string  `json:"sampleId" validate:"required"`
	Volume       float64 `json:"volume"`
	Transpose    int     `json:"transpose"`
	StepCount    int     `json:"stepCount"`
	PlaybackMode string  `json:"playbackMode" validate:"omitempty,oneof=oneshot gated"`
}

// ToModel builds a model.Track from the wire payload, defaulting absent
// fields the same way model.NewTrack does.
func (p TrackPayload) ToModel() *model.Track {
	t := model.NewTrack(p.ID, p.Name, p.SampleID)
	if p.Volume != 0 {
		t.Volume = p.Volume
	}
	t.Transpose = p.Transpose
	if p.StepCount != 0 {
		t.StepCount = p.StepCount
	}
	if p.PlaybackMode != "" {
		t.PlaybackMode = model.PlaybackMode(p.PlaybackMode)
	}
	return t
}

type AddTrackPayload struct {
	Track TrackPayload `json:"track"`
}

type DeleteTrackPayload struct {
	TrackID string `json:"trackId" validate:"required"`
}

type MoveTrackPayload struct {
	TrackID string `json:"trackId" validate:"required"`
	ToIndex int    `json:"toIndex" validate:"gte=0"`
}

type SetTrackNamePayload struct {
	TrackID string `json:"trackId" validate:"required"`
	Name    string `json:"name" validate:"required,max=64"`
}

type SetTrackSamplePayload struct {
	TrackID  string `json:"trackId" validate:"required"`
	SampleID string `json:"sampleId" validate:"required"`
}

type SetTrackVolumePayload struct {
	TrackID string  `json:"trackId" validate:"required"`
	Volume  float64 `json:"volume"`
}

type SetTrackTransposePayload struct {
	TrackID   string `json:"trackId" validate:"required"`
	Transpose int    `json:"transpose"`
}

type SetTrackStepCountPayload struct {
	TrackID   string `json:"trackId" validate:"required"`
	StepCount int    `json:"stepCount" validate:"required"`
}

type SetTrackPlaybackModePayload struct {
	TrackID string `json:"trackId" validate:"required"`
	Mode    string `json:"mode" validate:"required,oneof=oneshot gated"`
}

type ClearTrackPayload struct {
	TrackID string `json:"trackId" validate:"required"`
}

type CopyTrackPatternPayload struct {
	FromID string `json:"fromId" validate:"required"`
	ToID   string `json:"toId" validate:"required,nefield=FromID"`
}

type SetTempoPayload struct {
	BPM float64 `json:"bpm"`
}

type SetSwingPayload struct {
	Percent float64 `json:"percent"`
}

type SetSessionNamePayload struct {
	Name string `json:"name" validate:"required,max=128"`
}

type SetEffectsPayload struct {
	Effects map[string]any `json:"effects"`
}
