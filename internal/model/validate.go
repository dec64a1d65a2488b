package model

// Repair describes one fixup applied by ValidateAndRepair, for logging.
type Repair struct {
	TrackID string
	Field   string
	Detail  string
}

// ValidateAndRepair enforces every schema-level invariant in place and
// returns the list of repairs it had to make. It is called at every mutation
// boundary on the coordinator, and after snapshot load on the client — the
// single function responsible for the table in spec §4.8.
//
// Repairs are never fatal: a session is always left in a valid state.
func ValidateAndRepair(s *Session) []Repair {
	var repairs []Repair

	if s.Tempo < MinTempo {
		repairs = append(repairs, Repair{Field: "tempo", Detail: "clamped to MinTempo"})
		s.Tempo = MinTempo
	} else if s.Tempo > MaxTempo {
		repairs = append(repairs, Repair{Field: "tempo", Detail: "clamped to MaxTempo"})
		s.Tempo = MaxTempo
	}
	if s.Swing < MinSwing {
		repairs = append(repairs, Repair{Field: "swing", Detail: "clamped to MinSwing"})
		s.Swing = MinSwing
	} else if s.Swing > MaxSwing {
		repairs = append(repairs, Repair{Field: "swing", Detail: "clamped to MaxSwing"})
		s.Swing = MaxSwing
	}
	if len(s.Tracks) > MaxTracks {
		repairs = append(repairs, Repair{Field: "tracks", Detail: "truncated to MaxTracks"})
		s.Tracks = s.Tracks[:MaxTracks]
	}

	seen := make(map[string]bool, len(s.Tracks))
	deduped := s.Tracks[:0:0]
	for _, t := range s.Tracks {
		if seen[t.ID] {
			repairs = append(repairs, Repair{TrackID: t.ID, Field: "id", Detail: "duplicate track id dropped"})
			continue
		}
		seen[t.ID] = true
		deduped = append(deduped, t)
	}
	s.Tracks = deduped

	for _, t := range s.Tracks {
		repairs = append(repairs, repairTrack(t)...)
	}

	return repairs
}

func repairTrack(t *Track) []Repair {
	var repairs []Repair

	if t.Volume < MinVolume {
		t.Volume = MinVolume
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "volume", Detail: "clamped to min"})
	} else if t.Volume > MaxVolume {
		t.Volume = MaxVolume
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "volume", Detail: "clamped to max"})
	}

	if t.Transpose < MinTranspose {
		t.Transpose = MinTranspose
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "transpose", Detail: "clamped to min"})
	} else if t.Transpose > MaxTranspose {
		t.Transpose = MaxTranspose
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "transpose", Detail: "clamped to max"})
	}

	if !isValidStepCount(t.StepCount) {
		t.StepCount = SnapStepCount(t.StepCount)
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "stepCount", Detail: "snapped to nearest valid"})
	}

	if t.PlaybackMode != PlaybackOneshot && t.PlaybackMode != PlaybackGated {
		t.PlaybackMode = PlaybackOneshot
		repairs = append(repairs, Repair{TrackID: t.ID, Field: "playbackMode", Detail: "reset to oneshot"})
	}

	for i := range t.ParameterLocks {
		if repairLock(t.ParameterLocks[i]) {
			repairs = append(repairs, Repair{TrackID: t.ID, Field: "parameterLocks", Detail: "clamped"})
		}
	}

	// Steps and ParameterLocks are Go arrays ([MaxSteps]T), not slices, so
	// their length can never drift from MaxSteps — the invariant is enforced
	// by the type system rather than at runtime. This mirrors the spec's
	// "should never happen — bug" framing for a length violation: here it is
	// statically impossible, which is the strongest form of that guarantee.

	return repairs
}

func repairLock(l *ParameterLock) bool {
	if l == nil {
		return false
	}
	changed := false
	if l.Pitch != nil {
		if *l.Pitch < MinTranspose {
			*l.Pitch = MinTranspose
			changed = true
		} else if *l.Pitch > MaxTranspose {
			*l.Pitch = MaxTranspose
			changed = true
		}
	}
	if l.Volume != nil {
		if *l.Volume < MinVolume {
			*l.Volume = MinVolume
			changed = true
		} else if *l.Volume > MaxVolume {
			*l.Volume = MaxVolume
			changed = true
		}
	}
	if l.Probability != nil {
		if *l.Probability < MinProbability {
			*l.Probability = MinProbability
			changed = true
		} else if *l.Probability > MaxProbability {
			*l.Probability = MaxProbability
			changed = true
		}
	}
	if l.Retrigger != nil {
		if *l.Retrigger < MinRetrigger {
			*l.Retrigger = MinRetrigger
			changed = true
		} else if *l.Retrigger > MaxRetrigger {
			*l.Retrigger = MaxRetrigger
			changed = true
		}
	}
	return changed
}

func isValidStepCount(n int) bool {
	for _, v := range ValidStepCounts {
		if v == n {
			return true
		}
	}
	return false
}

// SnapStepCount returns the closest member of ValidStepCounts to n, breaking
// ties toward the smaller value.
func SnapStepCount(n int) int {
	best := ValidStepCounts[0]
	bestDist := abs(n - best)
	for _, v := range ValidStepCounts[1:] {
		d := abs(n - v)
		if d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
