package model

import "time"

// Entity identifies a participant.
type Entity struct {
	ID string `json:"id" cbor:"id"`
}

type MessageType string

// Wire tags of every record exchanged over a broadcast channel.
const (
	MessageTypeSyn         MessageType = "syn"
	MessageTypeSynAck      MessageType = "syn_ack"
	MessageTypeAck         MessageType = "ack"
	MessageTypePing        MessageType = "ping"
	MessageTypeUserMessage MessageType = "user-message"
)

// Message is implemented by every tagged record.
type Message interface {
	MessageType() MessageType
}

// Syn opens a handshake. Syn carries the initiator.
type Syn struct {
	Type MessageType `json:"type" cbor:"type"`
	Syn  Entity      `json:"syn" cbor:"syn"`
}

// SynAck answers a Syn. Syn is still the initiator, Ack is the responder.
type SynAck struct {
	Type MessageType `json:"type" cbor:"type"`
	Syn  Entity      `json:"syn" cbor:"syn"`
	Ack  Entity      `json:"ack" cbor:"ack"`
}

// Ack closes a handshake, fields keep the same roles as in SynAck.
type Ack struct {
	Type MessageType `json:"type" cbor:"type"`
	Syn  Entity      `json:"syn" cbor:"syn"`
	Ack  Entity      `json:"ack" cbor:"ack"`
}

type Ping struct {
	Type MessageType `json:"type" cbor:"type"`
	ID   string      `json:"id" cbor:"id"`
}

// UserMessage wraps an application payload with the sender id.
type UserMessage[T any] struct {
	Type MessageType `json:"type" cbor:"type"`
	Data T           `json:"data" cbor:"data"`
	ID   string      `json:"id" cbor:"id"`
}

func (Syn) MessageType() MessageType            { return MessageTypeSyn }
func (SynAck) MessageType() MessageType         { return MessageTypeSynAck }
func (Ack) MessageType() MessageType            { return MessageTypeAck }
func (Ping) MessageType() MessageType           { return MessageTypePing }
func (UserMessage[T]) MessageType() MessageType { return MessageTypeUserMessage }

func NewSyn(initiator Entity) Syn {
	return Syn{Type: MessageTypeSyn, Syn: initiator}
}

func NewSynAck(initiator, responder Entity) SynAck {
	return SynAck{Type: MessageTypeSynAck, Syn: initiator, Ack: responder}
}

func NewAck(initiator, responder Entity) Ack {
	return Ack{Type: MessageTypeAck, Syn: initiator, Ack: responder}
}

func NewPing(id string) Ping {
	return Ping{Type: MessageTypePing, ID: id}
}

func NewUserMessage[T any](id string, data T) UserMessage[T] {
	return UserMessage[T]{Type: MessageTypeUserMessage, Data: data, ID: id}
}

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionState is a snapshot of one logical connection.
// RemoteID is set only while Status is StatusConnected.
type ConnectionState struct {
	Status   Status `json:"status"`
	LocalID  string `json:"local_id"`
	RemoteID string `json:"remote_id,omitempty"`
}

// Subscription is the revocable handle returned by a broadcast transport.
type Subscription interface {
	Cancel()
}

// Relay side types.

type Channel struct {
	Name      string              `json:"name"`
	Endpoints map[string]Endpoint `json:"endpoints"`
}

type Endpoint struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Frame is one opaque broadcast message.
type Frame struct {
	SRC     string `json:"src"` // for inbound frames relay re-assigns this based on websocket session
	Payload []byte `json:"payload"`
}

type Wire struct {
	RX chan Frame
	TX chan Frame
}

const defaultWireBuffer = 64

func NewWire() Wire {
	return Wire{
		RX: make(chan Frame, defaultWireBuffer),
		TX: make(chan Frame, defaultWireBuffer),
	}
}
