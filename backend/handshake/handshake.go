// Package handshake implements the three-way SYN / SYN-ACK / ACK exchange
// that binds two participants of a broadcast channel to each other.
//
// Nothing is stored between calls: the role of the local participant is
// derived from the ids carried by each message. The initiator completes as
// soon as it sees the SYN-ACK addressed to it, the responder completes on the
// ACK, one round-trip later.
package handshake

import (
	"errors"

	"github.com/adwski/broadcast-link/backend/codec"
	"github.com/adwski/broadcast-link/backend/model"
)

var (
	ErrProtocol = errors.New("not a handshake message")
)

// IsHandshake reports whether t tags one of the three handshake records.
func IsHandshake(t model.MessageType) bool {
	switch t {
	case model.MessageTypeSyn, model.MessageTypeSynAck, model.MessageTypeAck:
		return true
	}
	return false
}

// IsHandshakeMessage classifies a raw record. Records without a type field
// are never handshake messages.
func IsHandshakeMessage(c codec.Codec, data []byte) bool {
	t, err := codec.TypeOf(c, data)
	if err != nil {
		return false
	}
	return IsHandshake(t)
}

// Decode turns a raw handshake record into Syn, SynAck or Ack.
func Decode(c codec.Codec, data []byte) (model.Message, error) {
	t, err := codec.TypeOf(c, data)
	if err != nil {
		return nil, errors.Join(ErrProtocol, err)
	}
	switch t {
	case model.MessageTypeSyn:
		var msg model.Syn
		err = c.Unmarshal(data, &msg)
		return msg, err
	case model.MessageTypeSynAck:
		var msg model.SynAck
		err = c.Unmarshal(data, &msg)
		return msg, err
	case model.MessageTypeAck:
		var msg model.Ack
		err = c.Unmarshal(data, &msg)
		return msg, err
	default:
		return nil, ErrProtocol
	}
}

// Handle reacts to one handshake message received by the participant originID.
// post publishes a response, onComplete receives the counterpart id once the
// handshake is finished from the local point of view.
func Handle(msg model.Message, originID string, post func(model.Message), onComplete func(remoteID string)) error {
	switch m := msg.(type) {
	case model.Syn:
		if m.Syn.ID == originID {
			// own syn echoed back
			return nil
		}
		post(model.NewSynAck(m.Syn, model.Entity{ID: originID}))

	case model.SynAck:
		if m.Syn.ID != originID {
			return nil
		}
		// ack goes out before completion
		post(model.NewAck(m.Syn, m.Ack))
		onComplete(m.Ack.ID)

	case model.Ack:
		if m.Ack.ID != originID {
			return nil
		}
		onComplete(m.Syn.ID)

	default:
		return ErrProtocol
	}
	return nil
}
