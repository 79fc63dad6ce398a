// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/meshgate/iotbroker/codec"
)

// Subscribe represents a SUBSCRIBE packet. The broker's fixed topic grammar
// means a client only ever subscribes to a single filter per call in
// practice, but the wire format allows a list, so Unpack handles it.
type Subscribe struct {
	FixedHeader
	PacketID uint16
	Filters  []SubscribeFilter
}

// SubscribeFilter is one topic-filter/QoS pair in a SUBSCRIBE packet.
type SubscribeFilter struct {
	Topic string
	QoS   byte
}

func (s *Subscribe) Type() byte { return SubscribeType }

func (s *Subscribe) String() string {
	return fmt.Sprintf("%s packetID=%d filters=%d", s.FixedHeader, s.PacketID, len(s.Filters))
}

func (s *Subscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.PacketID)...)
	for _, f := range s.Filters {
		body = append(body, codec.EncodeString(f.Topic)...)
		body = append(body, f.QoS)
	}
	s.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *Subscribe) Unpack(r io.Reader) error {
	var err error
	if s.PacketID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	for {
		topic, err := codec.DecodeString(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		qos, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}
		s.Filters = append(s.Filters, SubscribeFilter{Topic: topic, QoS: qos})
	}
	return nil
}

// SubAck represents a SUBACK packet.
type SubAck struct {
	FixedHeader
	PacketID    uint16
	ReturnCodes []byte
}

const SubAckFailure byte = 0x80

func (s *SubAck) Type() byte { return SubAckType }

func (s *SubAck) String() string {
	return fmt.Sprintf("%s packetID=%d", s.FixedHeader, s.PacketID)
}

func (s *SubAck) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.PacketID)...)
	body = append(body, s.ReturnCodes...)
	s.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *SubAck) Unpack(r io.Reader) error {
	var err error
	if s.PacketID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	s.ReturnCodes, err = io.ReadAll(r)
	return err
}

// Unsubscribe represents an UNSUBSCRIBE packet.
type Unsubscribe struct {
	FixedHeader
	PacketID uint16
	Topics   []string
}

func (u *Unsubscribe) Type() byte { return UnsubscribeType }

func (u *Unsubscribe) String() string {
	return fmt.Sprintf("%s packetID=%d topics=%d", u.FixedHeader, u.PacketID, len(u.Topics))
}

func (u *Unsubscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(u.PacketID)...)
	for _, t := range u.Topics {
		body = append(body, codec.EncodeString(t)...)
	}
	u.RemainingLength = len(body)
	return append(u.FixedHeader.Encode(), body...)
}

func (u *Unsubscribe) Unpack(r io.Reader) error {
	var err error
	if u.PacketID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	for {
		topic, err := codec.DecodeString(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		u.Topics = append(u.Topics, topic)
	}
	return nil
}

// UnsubAck represents an UNSUBACK packet.
type UnsubAck struct {
	FixedHeader
	PacketID uint16
}

func (u *UnsubAck) Type() byte { return UnsubAckType }

func (u *UnsubAck) String() string {
	return fmt.Sprintf("%s packetID=%d", u.FixedHeader, u.PacketID)
}

func (u *UnsubAck) Encode() []byte {
	body := codec.EncodeUint16(u.PacketID)
	u.RemainingLength = len(body)
	return append(u.FixedHeader.Encode(), body...)
}

func (u *UnsubAck) Unpack(r io.Reader) error {
	var err error
	u.PacketID, err = codec.DecodeUint16(r)
	return err
}
