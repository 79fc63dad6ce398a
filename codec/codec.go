// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the MQTT 3.1.1 primitive wire encoding used by
// the broker's packet layer: UTF-8 strings, binary blobs, big-endian
// integers, and variable byte integers.
package codec

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrMaxLengthExceeded is returned when a variable byte integer uses more
// than the four bytes the MQTT spec allows.
var ErrMaxLengthExceeded = errors.New("codec: max variable byte integer length exceeded")

const maxVBIMultiplier = 128 * 128 * 128

// EncodeBytes encodes a byte slice as a uint16 length prefix followed by the
// raw bytes.
func EncodeBytes(field []byte) []byte {
	n := len(field)
	b := []byte{byte(n >> 8), byte(n)}
	return append(b, field...)
}

// EncodeString encodes a UTF-8 string the same way as EncodeBytes.
func EncodeString(field string) []byte {
	return EncodeBytes([]byte(field))
}

// EncodeUint16 encodes n as two big-endian bytes.
func EncodeUint16(n uint16) []byte {
	return []byte{byte(n >> 8), byte(n)}
}

// EncodeUint32 encodes n as four big-endian bytes.
func EncodeUint32(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

// EncodeBool encodes a boolean as a single 0/1 byte.
func EncodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeVBI encodes n as an MQTT Variable Byte Integer (used for the fixed
// header's Remaining Length).
func EncodeVBI(n int) []byte {
	var out [4]byte
	v := uint32(n)
	i := 0
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		out[i] = b
		i++
		if v == 0 {
			return out[:i]
		}
	}
}

// DecodeByte reads a single byte.
func DecodeByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// DecodeUint16 reads a big-endian uint16.
func DecodeUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// DecodeUint32 reads a big-endian uint32.
func DecodeUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// DecodeBytes reads a uint16-length-prefixed byte slice.
func DecodeBytes(r io.Reader) ([]byte, error) {
	n, err := DecodeUint16(r)
	if err != nil {
		return nil, err
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, err
	}
	return field, nil
}

// DecodeString reads a uint16-length-prefixed UTF-8 string.
func DecodeString(r io.Reader) (string, error) {
	b, err := DecodeBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeVBI reads an MQTT Variable Byte Integer.
func DecodeVBI(r io.Reader) (int, error) {
	var value uint32
	var multiplier uint32 = 1
	var b [1]byte

	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		digit := b[0]
		value += uint32(digit&0x7F) * multiplier
		if digit&0x80 == 0 {
			break
		}
		multiplier *= 128
		if multiplier > maxVBIMultiplier {
			return 0, ErrMaxLengthExceeded
		}
	}
	return int(value), nil
}
