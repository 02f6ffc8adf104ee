// Package bus carries the typed, at-most-once message protocol between the
// independently-lifecycled parts of the recording core: the session
// coordinator, the recorder host, and any attached presentation surfaces.
package bus

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// KindPrefix namespaces every message kind. Anything without it is not ours
// and gets dropped at the boundary.
const KindPrefix = "screenreel/"

// Message kinds understood by the recording core.
const (
	KindStart          = KindPrefix + "start"
	KindStop           = KindPrefix + "stop"
	KindPause          = KindPrefix + "pause"
	KindResume         = KindPrefix + "resume"
	KindStatusRequest  = KindPrefix + "status-request"
	KindStatusUpdate   = KindPrefix + "status-update"
	KindAction         = KindPrefix + "action"
	KindHostReady      = KindPrefix + "host-ready"
	KindStreamRequest  = KindPrefix + "stream-request"
	KindStreamResponse = KindPrefix + "stream-response"
)

// Message is a tagged variant: a namespaced kind plus an optional JSON
// payload. Operations that need a correlated response carry a request id so
// concurrent requests of the same kind do not cross-respond.
type Message struct {
	Kind      string          `json:"kind"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message of the given kind with payload marshaled to
// JSON.
func NewMessage(kind string, payload any) (Message, error) {
	m := Message{Kind: kind}
	if payload == nil {
		return m, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, errors.Wrapf(err, "marshal payload for %s", kind)
	}
	m.Payload = raw
	return m, nil
}

// MustNew is NewMessage for payloads that cannot fail to marshal.
func MustNew(kind string, payload any) Message {
	m, err := NewMessage(kind, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Recognize parses raw bytes from an untrusted boundary. The second return
// is false for anything that is not a well-formed, namespaced message;
// callers drop those without error.
func Recognize(raw []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, false
	}
	if !strings.HasPrefix(m.Kind, KindPrefix) {
		return Message{}, false
	}
	return m, true
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.Errorf("message %s has no payload", m.Kind)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return errors.Wrapf(err, "decode payload of %s", m.Kind)
	}
	return nil
}

// Encode serializes the message for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
