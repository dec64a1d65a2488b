package wsapi

import (
	"encoding/json"

	"github.com/adewale/keyboardia/internal/model"
	"github.com/adewale/keyboardia/internal/protocol"
)

func buildSnapshotEnvelope(state *model.Session, seq uint64, hash string) (protocol.Envelope, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Envelope{
		Type:     protocol.TypeSnapshot,
		Snapshot: b,
		StateSeq: seq,
		Hash:     hash,
	}, nil
}
