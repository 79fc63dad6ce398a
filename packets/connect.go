// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"fmt"
	"io"

	"github.com/meshgate/iotbroker/codec"
)

// Connect represents a CONNECT packet. Only the fields the broker engine
// actually consults are exposed; Will/QoS>0 fields are parsed (so the
// decoder doesn't choke on them) but not acted on, per the Non-goals in
// spec.md §1 (no retained messages, no last-will enforcement in the core).
type Connect struct {
	FixedHeader
	ProtocolName    string
	ProtocolVersion byte
	UsernameFlag    bool
	PasswordFlag    bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	CleanSession    bool
	KeepAlive       uint16

	ClientID    string
	WillTopic   string
	WillMessage []byte
	Username    string
	Password    string
}

func (c *Connect) Type() byte { return ConnectType }

func (c *Connect) String() string {
	return fmt.Sprintf("%s clientID=%s clean=%t keepalive=%d", c.FixedHeader, c.ClientID, c.CleanSession, c.KeepAlive)
}

func (c *Connect) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeString(c.ProtocolName)...)
	body = append(body, c.ProtocolVersion)

	var flags byte
	if c.UsernameFlag {
		flags |= 1 << 7
	}
	if c.PasswordFlag {
		flags |= 1 << 6
	}
	if c.WillRetain {
		flags |= 1 << 5
	}
	flags |= (c.WillQoS & 0x03) << 3
	if c.WillFlag {
		flags |= 1 << 2
	}
	if c.CleanSession {
		flags |= 1 << 1
	}
	body = append(body, flags)
	body = append(body, codec.EncodeUint16(c.KeepAlive)...)

	body = append(body, codec.EncodeString(c.ClientID)...)
	if c.WillFlag {
		body = append(body, codec.EncodeString(c.WillTopic)...)
		body = append(body, codec.EncodeBytes(c.WillMessage)...)
	}
	if c.UsernameFlag {
		body = append(body, codec.EncodeString(c.Username)...)
	}
	if c.PasswordFlag {
		body = append(body, codec.EncodeString(c.Password)...)
	}

	c.RemainingLength = len(body)
	return append(c.FixedHeader.Encode(), body...)
}

func (c *Connect) Unpack(r io.Reader) error {
	var err error
	if c.ProtocolName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if c.ProtocolVersion, err = codec.DecodeByte(r); err != nil {
		return err
	}

	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	c.UsernameFlag = flags&(1<<7) > 0
	c.PasswordFlag = flags&(1<<6) > 0
	c.WillRetain = flags&(1<<5) > 0
	c.WillQoS = (flags >> 3) & 0x03
	c.WillFlag = flags&(1<<2) > 0
	c.CleanSession = flags&(1<<1) > 0

	if c.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	if c.ClientID, err = codec.DecodeString(r); err != nil {
		return err
	}
	if c.WillFlag {
		if c.WillTopic, err = codec.DecodeString(r); err != nil {
			return err
		}
		if c.WillMessage, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}
	if c.UsernameFlag {
		if c.Username, err = codec.DecodeString(r); err != nil {
			return err
		}
	}
	if c.PasswordFlag {
		pw, err := codec.DecodeBytes(r)
		if err != nil {
			return err
		}
		c.Password = string(pw)
	}
	return nil
}

// ConnAck represents a CONNACK packet.
type ConnAck struct {
	FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

func (c *ConnAck) Type() byte { return ConnAckType }

func (c *ConnAck) String() string {
	return fmt.Sprintf("%s sessionPresent=%t returnCode=%d", c.FixedHeader, c.SessionPresent, c.ReturnCode)
}

func (c *ConnAck) Encode() []byte {
	var flags byte
	if c.SessionPresent {
		flags |= 0x01
	}
	body := []byte{flags, c.ReturnCode}
	c.RemainingLength = len(body)
	return append(c.FixedHeader.Encode(), body...)
}

func (c *ConnAck) Unpack(r io.Reader) error {
	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	c.SessionPresent = flags&0x01 > 0
	c.ReturnCode, err = codec.DecodeByte(r)
	return err
}
