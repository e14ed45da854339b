package replog

import (
	"encoding/json"
	"fmt"

	"emberd/internal/ids"
)

// envelope wraps every wire message with the sending incarnation, used for
// the source-server tombstone check (§4.3): any message whose
// (sourceServer, sourceEpoch) matches a recorded ServerQuit tombstone is
// rejected outright.
type envelope struct {
	SourceServer ids.ServerId `json:"source_server"`
	SourceEpoch  ids.EpochId  `json:"source_epoch"`
	Content      Message      `json:"-"`
}

type wireEnvelope struct {
	SourceServer ids.ServerId    `json:"source_server"`
	SourceEpoch  ids.EpochId     `json:"source_epoch"`
	Content      json.RawMessage `json:"content"`
}

func encodeEnvelope(self ids.Incarnation, m Message) ([]byte, error) {
	content, err := encodeMessage(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		SourceServer: self.Server,
		SourceEpoch:  self.Epoch,
		Content:      content,
	})
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return envelope{}, fmt.Errorf("replog: unmarshal envelope: %w", err)
	}
	msg, err := decodeMessage(w.Content)
	if err != nil {
		return envelope{}, err
	}
	return envelope{SourceServer: w.SourceServer, SourceEpoch: w.SourceEpoch, Content: msg}, nil
}

func (e envelope) incarnation() ids.Incarnation {
	return ids.Incarnation{Server: e.SourceServer, Epoch: e.SourceEpoch}
}
