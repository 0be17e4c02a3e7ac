package sigdb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type compression int

const (
	cmpGzip compression = iota
	cmpZstd
	cmpXz
	cmpNone
)

func (c compression) String() string {
	switch c {
	case cmpGzip:
		return "gzip"
	case cmpZstd:
		return "zstd"
	case cmpXz:
		return "xz"
	default:
		return "none"
	}
}

var cmpHeaders = [...][]byte{
	{0x1F, 0x8B, 0x08},
	{0x28, 0xB5, 0x2F, 0xFD},
	{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00},
}

func detectCompression(b []byte) compression {
	for c, h := range cmpHeaders {
		if len(b) < len(h) {
			continue
		}
		if bytes.Equal(h, b[:len(h)]) {
			return compression(c)
		}
	}
	return cmpNone
}

// Decompress sniffs "r" for a known compression header and returns a reader
// of the decompressed contents. The returned close function releases any
// decoder state and must be called.
func decompress(r io.Reader) (io.Reader, compression, func(), error) {
	br := bufio.NewReader(r)
	b, err := br.Peek(len(cmpHeaders[cmpXz]))
	switch {
	case err == nil:
	case err == io.EOF, err == bufio.ErrBufferFull:
		// Short input; sniff whatever is there.
	default:
		return nil, cmpNone, nil, err
	}
	c := detectCompression(b)
	switch c {
	case cmpGzip:
		g, err := gzip.NewReader(br)
		if err != nil {
			return nil, c, nil, fmt.Errorf("gzip: %w", err)
		}
		return g, c, func() { g.Close() }, nil
	case cmpZstd:
		z, err := zstd.NewReader(br)
		if err != nil {
			return nil, c, nil, fmt.Errorf("zstd: %w", err)
		}
		return z, c, z.Close, nil
	case cmpXz:
		x, err := xz.NewReader(br)
		if err != nil {
			return nil, c, nil, fmt.Errorf("xz: %w", err)
		}
		return x, c, func() {}, nil
	default:
		return br, c, func() {}, nil
	}
}
