// Package codec serializes tagged protocol records for the broadcast medium.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/adwski/broadcast-link/backend/model"
)

const (
	NameJSON = "json"
	NameCBOR = "cbor"
)

var (
	ErrNoType       = errors.New("record has no type field")
	ErrUnknownCodec = errors.New("unknown codec")
)

type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// probe decodes only the tag. A pointer distinguishes a missing
// field from an empty one.
type probe struct {
	Type *model.MessageType `json:"type" cbor:"type"`
}

// TypeOf returns the tag of a raw record. Records that cannot be decoded
// or carry no type field return an error.
func TypeOf(c Codec, data []byte) (model.MessageType, error) {
	var p probe
	if err := c.Unmarshal(data, &p); err != nil {
		return "", err
	}
	if p.Type == nil {
		return "", ErrNoType
	}
	return *p.Type, nil
}

// ByName resolves a codec from configuration.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSON(), nil
	case NameCBOR:
		return CBOR(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type jsonCodec struct{}

func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string                       { return NameJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a codec producing canonical CBOR. Map keys are the same
// names the JSON codec uses.
func CBOR() Codec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc, dec: dec}
}

func (cborCodec) Name() string                         { return NameCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
