// Package wire implements the on-the-wire framing for totem datagrams:
// the fixed header every frame carries, and the type-specific payload
// codecs built on bufiox.
package wire

import (
	"encoding/binary"

	"github.com/corosync/corosync-sub008/corerr"
)

// Magic is the endian-detector value every header starts with, written
// in the sender's native byte order.
const Magic uint16 = 0xC070

// Version is the only wire version this build emits or accepts.
const Version uint8 = 0x03

// HeaderSize is the fixed byte length of Header on the wire.
const HeaderSize = 2 + 1 + 1 + 1 + 4 + 4

// Type identifies the payload that follows a Header.
type Type uint8

const (
	TypeMcast Type = iota
	TypeMembOrfToken
	TypeMembCommitToken
	TypeMembJoin
	TypeMembMergeDetect
	TypeTokenHoldCancel
)

// Header is the fixed preamble of every totem datagram.
type Header struct {
	Type          Type
	Encapsulated  bool
	NodeID        uint32
	TargetNodeID  uint32
}

// swapped reports whether buf's leading magic differs from the native
// value, meaning the whole frame needs a byte-order flip before use.
func swapped(buf []byte) (bool, error) {
	if len(buf) < 2 {
		return false, corerr.New(corerr.CodeLibrary, "wire: short header")
	}
	native := binary.LittleEndian.Uint16(buf[0:2])
	if native == Magic {
		return false, nil
	}
	swappedVal := binary.BigEndian.Uint16(buf[0:2])
	if swappedVal == Magic {
		return true, nil
	}
	return false, corerr.New(corerr.CodeLibrary, "wire: bad magic").WithContext("got", native)
}

// byteOrder returns the binary.ByteOrder to use for the rest of this
// frame once the header's endianness has been established.
func byteOrder(swap bool) binary.ByteOrder {
	if swap {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodeHeader reads and validates the fixed header from buf, detecting
// and reporting whether the remainder of the frame is byte-swapped
// relative to this host.
func DecodeHeader(buf []byte) (Header, bool, error) {
	if len(buf) < HeaderSize {
		return Header{}, false, corerr.New(corerr.CodeLibrary, "wire: truncated header")
	}
	swap, err := swapped(buf)
	if err != nil {
		return Header{}, false, err
	}
	bo := byteOrder(swap)
	version := buf[2]
	if version != Version {
		return Header{}, false, corerr.New(corerr.CodeLibrary, "wire: unsupported version").WithContext("version", version)
	}
	h := Header{
		Type:         Type(buf[3]),
		Encapsulated: buf[4] != 0,
		NodeID:       bo.Uint32(buf[5:9]),
		TargetNodeID: bo.Uint32(buf[9:13]),
	}
	return h, swap, nil
}

// EncodeHeader writes h into buf (which must be at least HeaderSize
// long) in native byte order, setting the magic that lets a peer of
// either endianness detect and correct it.
func EncodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(h.Type)
	if h.Encapsulated {
		buf[4] = 1
	} else {
		buf[4] = 0
	}
	binary.LittleEndian.PutUint32(buf[5:9], h.NodeID)
	binary.LittleEndian.PutUint32(buf[9:13], h.TargetNodeID)
}
