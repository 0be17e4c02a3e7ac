package quarantine

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fosav/sigscan"
)

// Container layout constants.
const (
	// Magic identifies a container. It is stored little-endian, so a
	// container starts with the bytes FE CA AD DE.
	Magic uint32 = 0xDEADCAFE
	// Version is the header version written by this package. Version 0
	// headers, which carry zero padding in the version slot, are also read.
	Version uint32 = 1
	// HeaderSize is the size of the fixed header.
	HeaderSize = 88
	// LabelSize is the size of the NUL-padded label field.
	LabelSize = 64
	// Key is the byte every payload byte is XORed with.
	Key byte = 0x5A
	// Extension is the container file extension.
	Extension = ".vir"
)

// Field offsets.
const (
	offMagic    = 0
	offVersion  = 4
	offTime     = 8
	offPathLen  = 16
	offLabel    = 20
	offReserved = offLabel + LabelSize
)

// Header is the fixed-size container header.
type Header struct {
	Version uint32
	// Time is stored with second precision.
	Time    time.Time
	PathLen uint32
	// Label is at most LabelSize-1 bytes once encoded.
	Label string
}

// MarshalBinary implements [encoding.BinaryMarshaler].
//
// Labels longer than the label field are truncated on a rune boundary.
func (h *Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[offMagic:], Magic)
	binary.LittleEndian.PutUint32(b[offVersion:], h.Version)
	binary.LittleEndian.PutUint64(b[offTime:], uint64(h.Time.Unix()))
	binary.LittleEndian.PutUint32(b[offPathLen:], h.PathLen)
	copy(b[offLabel:offReserved], truncateLabel(h.Label))
	return b, nil
}

// UnmarshalBinary implements [encoding.BinaryUnmarshaler].
//
// Any problem with the header is reported as a [sigscan.ErrCorrupt] error.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return &sigscan.Error{
			Op:      "quarantine.Header.UnmarshalBinary",
			Kind:    sigscan.ErrCorrupt,
			Message: fmt.Sprintf("short header: %d bytes", len(b)),
		}
	}
	if m := binary.LittleEndian.Uint32(b[offMagic:]); m != Magic {
		return &sigscan.Error{
			Op:      "quarantine.Header.UnmarshalBinary",
			Kind:    sigscan.ErrCorrupt,
			Message: fmt.Sprintf("bad magic: %#08x", m),
		}
	}
	v := binary.LittleEndian.Uint32(b[offVersion:])
	if v > Version {
		return &sigscan.Error{
			Op:      "quarantine.Header.UnmarshalBinary",
			Kind:    sigscan.ErrCorrupt,
			Message: fmt.Sprintf("unknown version: %d", v),
		}
	}
	label := b[offLabel:offReserved]
	if i := strings.IndexByte(string(label), 0); i != -1 {
		label = label[:i]
	}
	*h = Header{
		Version: v,
		Time:    time.Unix(int64(binary.LittleEndian.Uint64(b[offTime:])), 0),
		PathLen: binary.LittleEndian.Uint32(b[offPathLen:]),
		Label:   strings.ToValidUTF8(string(label), "\uFFFD"),
	}
	return nil
}

func truncateLabel(s string) string {
	if len(s) < LabelSize {
		return s
	}
	s = s[:LabelSize-1]
	for len(s) > 0 {
		r, sz := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || sz > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
