// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/meshgate/iotbroker/codec"
)

// Publish represents a PUBLISH packet. QoS 0 only: no packet identifier is
// read or written, matching the broker's Non-goal of no QoS>0 delivery.
type Publish struct {
	FixedHeader
	TopicName string
	Payload   []byte
}

func (p *Publish) Type() byte { return PublishType }

func (p *Publish) String() string {
	return fmt.Sprintf("%s topic=%s payloadLen=%d", p.FixedHeader, p.TopicName, len(p.Payload))
}

func (p *Publish) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeString(p.TopicName)...)
	body = append(body, p.Payload...)
	p.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *Publish) Unpack(r io.Reader) error {
	var err error
	if p.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}
	p.Payload, err = io.ReadAll(r)
	return err
}

// NewPublish builds a QoS 0 PUBLISH packet ready to encode.
func NewPublish(topic string, payload []byte) *Publish {
	return &Publish{
		FixedHeader: FixedHeader{PacketType: PublishType},
		TopicName:   topic,
		Payload:     payload,
	}
}
