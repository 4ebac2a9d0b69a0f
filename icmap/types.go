// Package icmap implements the in-memory, trie-backed, typed key/value
// store that is corosync-sub008's control/observation plane. Map is the
// client-writable variant (the "icmap" proper); StatsMap is the
// read-only variant whose values are synthesized on demand from live
// counters (transport/SRP/PG statistics).
package icmap

import (
	"encoding/binary"
	"math"

	"github.com/corosync/corosync-sub008/corerr"
)

// Type identifies the wire/storage representation of a Value.
type Type int

const (
	TypeI8 Type = iota
	TypeU8
	TypeI16
	TypeU16
	TypeI32
	TypeU32
	TypeI64
	TypeU64
	TypeF32
	TypeF64
	TypeString
	TypeBinary
)

// MaxValueLen is the 16 KiB ceiling on any stored value.
const MaxValueLen = 16 * 1024

// MinKeyLen and MaxKeyLen bound key_name length per the spec's data model.
const (
	MinKeyLen = 3
	MaxKeyLen = 255
)

// fixedWidth returns the mandatory byte length for fixed-width types, or
// (0, false) for String/Binary whose length is variable.
func fixedWidth(t Type) (int, bool) {
	switch t {
	case TypeI8, TypeU8:
		return 1, true
	case TypeI16, TypeU16:
		return 2, true
	case TypeI32, TypeU32, TypeF32:
		return 4, true
	case TypeI64, TypeU64, TypeF64:
		return 8, true
	default:
		return 0, false
	}
}

func isIntegerType(t Type) bool {
	switch t {
	case TypeI8, TypeU8, TypeI16, TypeU16, TypeI32, TypeU32, TypeI64, TypeU64:
		return true
	default:
		return false
	}
}

// Value is a typed, length-bounded byte payload. String values are
// NUL-terminated and Len includes the terminator.
type Value struct {
	Type Type
	Data []byte
}

func isValidKeyChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-' || b == '/' || b == ':':
		return true
	default:
		return false
	}
}

// ConvertNameToValidName replaces every byte outside the allowed
// key-name alphabet with '_'.
func ConvertNameToValidName(name string) string {
	out := []byte(name)
	for i, b := range out {
		if !isValidKeyChar(b) {
			out[i] = '_'
		}
	}
	return string(out)
}

func validateKeyName(key string) error {
	if len(key) < MinKeyLen || len(key) > MaxKeyLen {
		return corerr.ErrNameTooLong
	}
	for i := 0; i < len(key); i++ {
		if !isValidKeyChar(key[i]) {
			return corerr.New(corerr.CodeInvalidParam, "icmap: invalid character in key name").WithContext("key", key)
		}
	}
	return nil
}

func validateValue(t Type, data []byte) error {
	if len(data) > MaxValueLen {
		return corerr.New(corerr.CodeInvalidParam, "icmap: value exceeds 16 KiB")
	}
	if width, fixed := fixedWidth(t); fixed && len(data) != width {
		return corerr.New(corerr.CodeInvalidParam, "icmap: type-length mismatch").
			WithContext("type", t).WithContext("want", width).WithContext("got", len(data))
	}
	if t == TypeString {
		if len(data) == 0 || data[len(data)-1] != 0 {
			return corerr.New(corerr.CodeInvalidParam, "icmap: string value must be NUL-terminated")
		}
	}
	return nil
}

// NewString builds a NUL-terminated string Value.
func NewString(s string) Value {
	b := append([]byte(s), 0)
	return Value{Type: TypeString, Data: b}
}

// NewBinary builds a Binary Value.
func NewBinary(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{Type: TypeBinary, Data: cp}
}

func newIntValue(t Type, v uint64) Value {
	width, _ := fixedWidth(t)
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return Value{Type: t, Data: buf}
}

// NewU8, NewU16, NewU32, NewU64, NewI8, NewI16, NewI32, NewI64 build
// fixed-width integer values in the host's (little-endian, stored)
// representation used internally by the map.
func NewU8(v uint8) Value   { return newIntValue(TypeU8, uint64(v)) }
func NewU16(v uint16) Value { return newIntValue(TypeU16, uint64(v)) }
func NewU32(v uint32) Value { return newIntValue(TypeU32, uint64(v)) }
func NewU64(v uint64) Value { return newIntValue(TypeU64, v) }
func NewI8(v int8) Value    { return newIntValue(TypeI8, uint64(uint8(v))) }
func NewI16(v int16) Value  { return newIntValue(TypeI16, uint64(uint16(v))) }
func NewI32(v int32) Value  { return newIntValue(TypeI32, uint64(uint32(v))) }
func NewI64(v int64) Value  { return newIntValue(TypeI64, uint64(v)) }

func NewF32(v float32) Value { return newIntValue(TypeF32, uint64(math.Float32bits(v))) }
func NewF64(v float64) Value { return newIntValue(TypeF64, math.Float64bits(v)) }

func (v Value) asUint64() (uint64, int, bool) {
	width, fixed := fixedWidth(v.Type)
	if !fixed || !isIntegerType(v.Type) {
		return 0, 0, false
	}
	switch width {
	case 1:
		return uint64(v.Data[0]), width, true
	case 2:
		return uint64(binary.LittleEndian.Uint16(v.Data)), width, true
	case 4:
		return uint64(binary.LittleEndian.Uint32(v.Data)), width, true
	case 8:
		return binary.LittleEndian.Uint64(v.Data), width, true
	}
	return 0, 0, false
}

// Uint64 extracts an integer Value as uint64, regardless of its exact
// signed/unsigned width.
func (v Value) Uint64() (uint64, bool) {
	u, _, ok := v.asUint64()
	return u, ok
}

// String returns the stored string without its trailing NUL.
func (v Value) String() string {
	if v.Type != TypeString || len(v.Data) == 0 {
		return ""
	}
	return string(v.Data[:len(v.Data)-1])
}

// Equal implements key_value_eq's per-entry comparison: same type, same
// bytes (strings compare through and including the terminator, which is
// already part of Data).
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || len(v.Data) != len(o.Data) {
		return false
	}
	for i := range v.Data {
		if v.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// writeUint64 overwrites an integer Value's backing bytes in place,
// the mechanism fast_adjust_int relies on to alias old and new.
func writeUint64(dst []byte, v uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(dst, v)
	}
}

func wrapAdd(t Type, cur uint64, step int64, width int) uint64 {
	sum := int64(cur) + step
	mask := uint64(1)<<(uint(width)*8) - 1
	if width == 8 {
		return uint64(sum)
	}
	return uint64(sum) & mask
}
