package query

import (
	"bytes"
	"encoding/json"
)

// Envelope wraps a metric payload as {"metric", "description", ...}. Object
// payloads are merged into the envelope; anything else is placed under
// "data".
type Envelope struct {
	Metric      string
	Description string
	Payload     any
}

type envelopeHead struct {
	Metric      string `json:"metric"`
	Description string `json:"description,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	head, err := json.Marshal(envelopeHead{Metric: e.Metric, Description: e.Description})
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)

	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	switch {
	case len(body) > 0 && body[0] == '{':
		inner := bytes.TrimSpace(body[1 : len(body)-1])
		if len(inner) > 0 {
			buf.WriteByte(',')
			buf.Write(inner)
		}
	case bytes.Equal(body, []byte("null")):
		buf.WriteString(`,"data":[]`)
	default:
		buf.WriteString(`,"data":`)
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// counted is a row list with its length, for metrics that report a count.
type counted[T any] struct {
	Count int `json:"count"`
	Data  []T `json:"data"`
}

func countRows[T any](rows []T) counted[T] {
	if rows == nil {
		rows = []T{}
	}
	return counted[T]{Count: len(rows), Data: rows}
}
