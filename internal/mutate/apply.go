// Package mutate holds the single chokepoint for applying a decoded mutation
// payload to a model.Session in place. It is shared by internal/coordinator
// (applying a mutation authoritatively) and internal/clientsync (applying
// the same op optimistically to a local mirror, and replaying a remote
// applied broadcast) so the two can never drift in what a given op means.
package mutate

import (
	"encoding/json"
	"fmt"

	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/protocol"
)

// Apply validates payload and applies op to sess in place. Callers run
// model.ValidateAndRepair immediately afterward.
func Apply(sess *model.Session, op string, raw json.RawMessage) error {
	switch op {
	case protocol.OpToggleStep:
		var p protocol.ToggleStepPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.Steps[p.Step] = !t.Steps[p.Step]

	case protocol.OpSetParameterLock:
		var p protocol.SetParameterLockPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.ParameterLocks[p.Step] = p.Lock.ToModel()

	case protocol.OpAddTrack:
		var p protocol.AddTrackPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		if len(sess.Tracks) >= model.MaxTracks {
			return fmt.Errorf("session already has %d tracks", model.MaxTracks)
		}
		if sess.TrackByID(p.Track.ID) != nil {
			return fmt.Errorf("track id %q already exists", p.Track.ID)
		}
		sess.Tracks = append(sess.Tracks, p.Track.ToModel())

	case protocol.OpDeleteTrack:
		var p protocol.DeleteTrackPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		idx := sess.TrackIndex(p.TrackID)
		if idx < 0 {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		sess.Tracks = append(sess.Tracks[:idx], sess.Tracks[idx+1:]...)

	case protocol.OpMoveTrack:
		var p protocol.MoveTrackPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		idx := sess.TrackIndex(p.TrackID)
		if idx < 0 {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		to := p.ToIndex
		if to >= len(sess.Tracks) {
			to = len(sess.Tracks) - 1
		}
		t := sess.Tracks[idx]
		sess.Tracks = append(sess.Tracks[:idx], sess.Tracks[idx+1:]...)
		sess.Tracks = append(sess.Tracks[:to], append([]*model.Track{t}, sess.Tracks[to:]...)...)

	case protocol.OpSetTrackName:
		var p protocol.SetTrackNamePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.Name = p.Name

	case protocol.OpSetTrackSample:
		var p protocol.SetTrackSamplePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.SampleID = p.SampleID

	case protocol.OpSetTrackVolume:
		var p protocol.SetTrackVolumePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.Volume = p.Volume

	case protocol.OpSetTrackTranspose:
		var p protocol.SetTrackTransposePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.Transpose = p.Transpose

	case protocol.OpSetTrackStepCount:
		var p protocol.SetTrackStepCountPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		// Only the view window changes; Steps/ParameterLocks are never
		// resized, so a shrink followed by a grow back to the same value
		// is a complete no-op on stored pattern data.
		t.StepCount = p.StepCount

	case protocol.OpSetTrackPlaybackMode:
		var p protocol.SetTrackPlaybackModePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.PlaybackMode = model.PlaybackMode(p.Mode)

	case protocol.OpClearTrack:
		var p protocol.ClearTrackPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		t := sess.TrackByID(p.TrackID)
		if t == nil {
			return fmt.Errorf("unknown track %q", p.TrackID)
		}
		t.Clear()

	case protocol.OpCopyTrackPattern:
		var p protocol.CopyTrackPatternPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		from := sess.TrackByID(p.FromID)
		to := sess.TrackByID(p.ToID)
		if from == nil {
			return fmt.Errorf("unknown track %q", p.FromID)
		}
		if to == nil {
			return fmt.Errorf("unknown track %q", p.ToID)
		}
		to.CopyPatternFrom(from)

	case protocol.OpSetTempo:
		var p protocol.SetTempoPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		sess.Tempo = p.BPM

	case protocol.OpSetSwing:
		var p protocol.SetSwingPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		sess.Swing = p.Percent

	case protocol.OpSetSessionName:
		var p protocol.SetSessionNamePayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		sess.Name = &p.Name

	case protocol.OpSetEffects:
		var p protocol.SetEffectsPayload
		if err := protocol.DecodePayload(raw, &p); err != nil {
			return err
		}
		sess.Effects = p.Effects

	default:
		return fmt.Errorf("unknown mutation type %q", op)
	}
	return nil
}
