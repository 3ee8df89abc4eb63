package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindInvite       Kind = "invite"
	KindAccept       Kind = "accept"
	KindDecline      Kind = "decline"
	KindBusy         Kind = "busy"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindEnd          Kind = "end"
)

var ErrUnknownKind = errors.New("unknown signaling kind")

func (k Kind) Valid() bool {
	switch k {
	case KindInvite, KindAccept, KindDecline, KindBusy, KindOffer, KindAnswer, KindICECandidate, KindEnd:
		return true
	}
	return false
}

// Control kinds must not be dropped silently; they are retried or persisted.
func (k Kind) Control() bool {
	switch k {
	case KindInvite, KindAccept, KindDecline, KindBusy, KindEnd:
		return true
	}
	return false
}

// Durable kinds are written to the per-call record.
func (k Kind) Durable() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Closing kinds end the call for both sides.
func (k Kind) Closing() bool {
	return k == KindDecline || k == KindBusy || k == KindEnd
}

// SignalingMessage is a unit of signaling payload between two users.
type SignalingMessage struct {
	ID         string          `json:"id" msgpack:"id"`
	Kind       Kind            `json:"kind" msgpack:"kind"`
	FromUserID UserID          `json:"from" msgpack:"from"`
	ToUserID   UserID          `json:"to" msgpack:"to"`
	CallID     CallID          `json:"call_id" msgpack:"call_id"`
	Payload    json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	SentAt     time.Time       `json:"sent_at" msgpack:"sent_at"`
}

// InvitePayload travels with invite.
type InvitePayload struct {
	Mode       Mode   `json:"mode"`
	CallerName string `json:"caller_name,omitempty"`
}

// SDPPayload travels with offer and answer.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidatePayload travels with ice-candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ReasonPayload travels with decline and end.
type ReasonPayload struct {
	Reason EndReason `json:"reason,omitempty"`
}

// NewMessage stamps a message with a fresh id and send time.
func NewMessage(kind Kind, from, to UserID, callID CallID, payload any) (SignalingMessage, error) {
	msg := SignalingMessage{
		ID:         uuid.NewString(),
		Kind:       kind,
		FromUserID: from,
		ToUserID:   to,
		CallID:     callID,
		SentAt:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return SignalingMessage{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode unmarshals the kind-specific payload into v.
func (m SignalingMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// Validate checks the envelope fields every carrier relies on.
func (m SignalingMessage) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if m.FromUserID == "" || m.ToUserID == "" {
		return ErrUserIDEmpty
	}
	if m.FromUserID == m.ToUserID {
		return errors.New("message addressed to sender")
	}
	if m.CallID == "" {
		return errors.New("missing call id")
	}
	return nil
}
