// Package canonhash computes the canonical state fingerprint used for
// divergence detection between the coordinator and a client mirror (spec
// §4.8). Both sides must produce byte-identical hash input for the same
// logical state, which is why the serialization here is hand-built field by
// field rather than delegated to encoding/json on the full model.Session:
// map iteration order, struct field order after a schema change, and
// incidental JSON tag drift are all ways encoding/json's output can silently
// stop being byte-identical across two otherwise-equal states.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/adewale/keyboardia/internal/model"
)

// Session returns the canonical fingerprint of s, hex-encoded.
//
// Included: tempo, swing, version, and each track's id, name, sampleId,
// volume, transpose, stepCount, playbackMode, steps and parameterLocks, in
// track declaration order.
//
// Excluded: sessionId, stateSeq, effects, and every local-only field (muted,
// soloed) — see internal/model's doc comment on why those never enter the
// hash.
func Session(s *model.Session) string {
	h := sha256.New()
	var b strings.Builder

	b.WriteString("tempo=")
	b.WriteString(strconv.FormatFloat(s.Tempo, 'f', -1, 64))
	b.WriteString(";swing=")
	b.WriteString(strconv.FormatFloat(s.Swing, 'f', -1, 64))
	b.WriteString(";version=")
	b.WriteString(strconv.Itoa(s.Version))
	b.WriteString(";tracks=[")
	h.Write([]byte(b.String()))
	b.Reset()

	for i, t := range s.Tracks {
		if i > 0 {
			h.Write([]byte(","))
		}
		writeTrack(h, t)
	}
	h.Write([]byte("]"))

	return hex.EncodeToString(h.Sum(nil))
}

func writeTrack(h interface{ Write([]byte) (int, error) }, t *model.Track) {
	var b strings.Builder
	fmt.Fprintf(&b, "{id=%s;name=%s;sampleId=%s;volume=%s;transpose=%d;stepCount=%d;playbackMode=%s;steps=",
		t.ID, t.Name, t.SampleID,
		strconv.FormatFloat(t.Volume, 'f', -1, 64),
		t.Transpose, t.StepCount, t.PlaybackMode)
	h.Write([]byte(b.String()))

	// The full MaxSteps-length arrays are hashed, not just [0:StepCount]:
	// steps and parameterLocks beyond the active window are still replicated
	// state (spec §4.8), and a client that silently diverges there must
	// produce a different hash so the mismatch is actually detectable.
	stepBits := make([]byte, model.MaxSteps)
	for i := 0; i < model.MaxSteps; i++ {
		if t.Steps[i] {
			stepBits[i] = '1'
		} else {
			stepBits[i] = '0'
		}
	}
	h.Write(stepBits)

	h.Write([]byte(";locks="))
	for i := 0; i < model.MaxSteps; i++ {
		if i > 0 {
			h.Write([]byte(","))
		}
		writeLock(h, t.ParameterLocks[i])
	}
	h.Write([]byte("}"))
}

func writeLock(h interface{ Write([]byte) (int, error) }, l *model.ParameterLock) {
	if l == nil {
		h.Write([]byte("_"))
		return
	}
	var b strings.Builder
	b.WriteString("(")
	writeIntPtr(&b, "p", l.Pitch)
	writeFloatPtr(&b, "v", l.Volume)
	writeIntPtr(&b, "q", l.Probability)
	writeIntPtr(&b, "r", l.Retrigger)
	if l.Tie != nil {
		fmt.Fprintf(&b, "tie=%t;", *l.Tie)
	}
	b.WriteString(")")
	h.Write([]byte(b.String()))
}

func writeIntPtr(b *strings.Builder, tag string, v *int) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "%s=%d;", tag, *v)
}

func writeFloatPtr(b *strings.Builder, tag string, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "%s=%s;", tag, strconv.FormatFloat(*v, 'f', -1, 64))
}
