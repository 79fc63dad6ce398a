// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package packets implements the subset of MQTT 3.1.1 control packets the
// broker engine needs: CONNECT, CONNACK, PUBLISH, SUBSCRIBE, SUBACK,
// UNSUBSCRIBE, UNSUBACK, PINGREQ, PINGRESP, and DISCONNECT, all at QoS 0.
package packets

import (
	"fmt"
	"io"

	"github.com/meshgate/iotbroker/codec"
)

// Packet type constants, matching the MQTT 3.1.1 control packet type field.
const (
	ConnectType = iota + 1
	ConnAckType
	PublishType
	_ // PubAck, unused: QoS 0 only
	_ // PubRec
	_ // PubRel
	_ // PubComp
	SubscribeType
	SubAckType
	UnsubscribeType
	UnsubAckType
	PingReqType
	PingRespType
	DisconnectType
)

// Names maps packet type constants to their protocol names, for logging.
var Names = map[byte]string{
	ConnectType:     "CONNECT",
	ConnAckType:     "CONNACK",
	PublishType:     "PUBLISH",
	SubscribeType:   "SUBSCRIBE",
	SubAckType:      "SUBACK",
	UnsubscribeType: "UNSUBSCRIBE",
	UnsubAckType:    "UNSUBACK",
	PingReqType:     "PINGREQ",
	PingRespType:    "PINGRESP",
	DisconnectType:  "DISCONNECT",
}

// CONNACK return codes (MQTT 3.1.1 §3.2.2.3).
const (
	ConnAckAccepted               byte = 0x00
	ConnAckUnacceptableProtocol   byte = 0x01
	ConnAckIdentifierRejected     byte = 0x02
	ConnAckServerUnavailable      byte = 0x03
	ConnAckBadUsernameOrPassword  byte = 0x04
	ConnAckNotAuthorized          byte = 0x05
)

// ControlPacket is satisfied by every packet type in this package.
type ControlPacket interface {
	Encode() []byte
	Unpack(r io.Reader) error
	Type() byte
	String() string
}

// FixedHeader is the byte-and-length prefix common to every MQTT packet.
type FixedHeader struct {
	PacketType      byte
	Dup             bool
	QoS             byte
	Retain          bool
	RemainingLength int
}

func (fh FixedHeader) String() string {
	return fmt.Sprintf("type=%s dup=%t qos=%d retain=%t remaining=%d",
		Names[fh.PacketType], fh.Dup, fh.QoS, fh.Retain, fh.RemainingLength)
}

// Encode serializes the fixed header (type/flags byte plus the VBI-encoded
// remaining length). Callers must set RemainingLength first.
func (fh FixedHeader) Encode() []byte {
	var dup, retain byte
	if fh.Dup {
		dup = 1
	}
	if fh.Retain {
		retain = 1
	}
	b := []byte{fh.PacketType<<4 | dup<<3 | fh.QoS<<1 | retain}
	return append(b, codec.EncodeVBI(fh.RemainingLength)...)
}

// Decode parses the fixed header given the already-read type/flags byte and
// a reader positioned at the remaining-length field.
func (fh *FixedHeader) Decode(typeAndFlags byte, r io.Reader) error {
	fh.PacketType = typeAndFlags >> 4
	fh.Dup = (typeAndFlags>>3)&0x01 > 0
	fh.QoS = (typeAndFlags >> 1) & 0x03
	fh.Retain = typeAndFlags&0x01 > 0

	n, err := codec.DecodeVBI(r)
	if err != nil {
		return err
	}
	fh.RemainingLength = n
	return nil
}

// ReadPacket reads one full control packet from r: a type/flags byte, the
// VBI remaining length, then exactly that many body bytes, dispatched to the
// right concrete type's Unpack.
func ReadPacket(r io.Reader) (ControlPacket, error) {
	var typeAndFlags [1]byte
	if _, err := io.ReadFull(r, typeAndFlags[:]); err != nil {
		return nil, err
	}

	var fh FixedHeader
	if err := fh.Decode(typeAndFlags[0], r); err != nil {
		return nil, err
	}

	body := make([]byte, fh.RemainingLength)
	if fh.RemainingLength > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	bodyReader := byteReader(body)

	pkt, err := newPacket(fh)
	if err != nil {
		return nil, err
	}
	if err := pkt.Unpack(&bodyReader); err != nil {
		return nil, err
	}
	return pkt, nil
}

func newPacket(fh FixedHeader) (ControlPacket, error) {
	switch fh.PacketType {
	case ConnectType:
		return &Connect{FixedHeader: fh}, nil
	case ConnAckType:
		return &ConnAck{FixedHeader: fh}, nil
	case PublishType:
		return &Publish{FixedHeader: fh}, nil
	case SubscribeType:
		return &Subscribe{FixedHeader: fh}, nil
	case SubAckType:
		return &SubAck{FixedHeader: fh}, nil
	case UnsubscribeType:
		return &Unsubscribe{FixedHeader: fh}, nil
	case UnsubAckType:
		return &UnsubAck{FixedHeader: fh}, nil
	case PingReqType:
		return &PingReq{FixedHeader: fh}, nil
	case PingRespType:
		return &PingResp{FixedHeader: fh}, nil
	case DisconnectType:
		return &Disconnect{FixedHeader: fh}, nil
	default:
		return nil, fmt.Errorf("packets: unsupported incoming packet type %d", fh.PacketType)
	}
}

// byteReader is a minimal io.Reader over an in-memory slice, used so Unpack
// implementations can keep reading from a plain io.Reader.
type byteReader []byte

func (b *byteReader) Read(p []byte) (int, error) {
	if len(*b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, *b)
	*b = (*b)[n:]
	return n, nil
}
