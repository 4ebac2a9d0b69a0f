package totempg

import (
	"encoding/binary"

	"github.com/cloudwego/gopkg/bufiox"

	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/internal/wire"
)

// pgFrame is the group-tagged fragment riding inside one SRP multicast
// message's opaque user bytes. SRP's own wire.FragmentHeader slot is
// left zero by this layer; PG manages its fragmentation metadata
// independently so SRP's public contract never needs to know about
// groups or fragments (see DESIGN.md for the tradeoff).
type pgFrame struct {
	Groups     []string
	Generation uint32
	Guarantee  Guarantee
	Fragment   wire.FragmentHeader
	Payload    []byte
}

const pgFixedSize = 1 + 4 + 1 + 16 + 4 // groupCount + generation + guarantee + fragment header + payload len

func encodePGFrame(f pgFrame) ([]byte, error) {
	var raw []byte
	w := bufiox.NewBytesWriter(&raw)

	groupsLen := 0
	for _, g := range f.Groups {
		groupsLen += 1 + len(g)
	}
	buf, err := w.Malloc(pgFixedSize + groupsLen)
	if err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "totempg: malloc frame header").WithCause(err)
	}
	buf[0] = byte(len(f.Groups))
	binary.BigEndian.PutUint32(buf[1:5], f.Generation)
	buf[5] = byte(f.Guarantee)
	putFragmentHeader(buf[6:22], f.Fragment)
	binary.BigEndian.PutUint32(buf[22:26], uint32(len(f.Payload)))

	pos := pgFixedSize
	for _, g := range f.Groups {
		buf[pos] = byte(len(g))
		copy(buf[pos+1:], g)
		pos += 1 + len(g)
	}

	if _, err := w.WriteBinary(f.Payload); err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "totempg: write frame payload").WithCause(err)
	}
	if err := w.Flush(); err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "totempg: flush frame").WithCause(err)
	}
	return raw, nil
}

func decodePGFrame(raw []byte) (pgFrame, error) {
	r := bufiox.NewBytesReader(raw)
	buf, err := r.Next(pgFixedSize)
	if err != nil {
		return pgFrame{}, corerr.New(corerr.CodeLibrary, "totempg: read frame header").WithCause(err)
	}
	groupCount := int(buf[0])
	generation := binary.BigEndian.Uint32(buf[1:5])
	guarantee := Guarantee(buf[5])
	frag := getFragmentHeader(buf[6:22])
	payloadLen := binary.BigEndian.Uint32(buf[22:26])

	groups := make([]string, groupCount)
	for idx := 0; idx < groupCount; idx++ {
		lb, err := r.Next(1)
		if err != nil {
			return pgFrame{}, corerr.New(corerr.CodeLibrary, "totempg: read group length").WithCause(err)
		}
		gb, err := r.Next(int(lb[0]))
		if err != nil {
			return pgFrame{}, corerr.New(corerr.CodeLibrary, "totempg: read group name").WithCause(err)
		}
		groups[idx] = string(gb)
	}
	payload, err := r.Next(int(payloadLen))
	if err != nil {
		return pgFrame{}, corerr.New(corerr.CodeLibrary, "totempg: read payload").WithCause(err)
	}
	return pgFrame{
		Groups:     groups,
		Generation: generation,
		Guarantee:  guarantee,
		Fragment:   frag,
		Payload:    append([]byte(nil), payload...),
	}, nil
}

func putFragmentHeader(buf []byte, f wire.FragmentHeader) {
	binary.BigEndian.PutUint32(buf[0:4], f.MsgLen)
	binary.BigEndian.PutUint32(buf[4:8], f.FragmentSize)
	binary.BigEndian.PutUint32(buf[8:12], f.CopyLen)
	binary.BigEndian.PutUint32(buf[12:16], f.CopyBaseOffset)
}

func getFragmentHeader(buf []byte) wire.FragmentHeader {
	return wire.FragmentHeader{
		MsgLen:         binary.BigEndian.Uint32(buf[0:4]),
		FragmentSize:   binary.BigEndian.Uint32(buf[4:8]),
		CopyLen:        binary.BigEndian.Uint32(buf[8:12]),
		CopyBaseOffset: binary.BigEndian.Uint32(buf[12:16]),
	}
}
