package quarantine

import "io"

// ChunkSize is the buffer size used when encoding and decoding payloads.
const ChunkSize = 4096

// The XOR transform only keeps quarantined files from being recognized or
// executed in place. It provides no confidentiality.

func xor(b []byte) {
	for i := range b {
		b[i] ^= Key
	}
}

// Encode copies "src" to "dst", transforming every byte. It returns the
// number of bytes written.
func encode(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, rErr := src.Read(buf)
		if n > 0 {
			xor(buf[:n])
			w, wErr := dst.Write(buf[:n])
			total += int64(w)
			if wErr != nil {
				return total, wErr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
		}
		switch rErr {
		case nil:
		case io.EOF:
			return total, nil
		default:
			return total, &readError{rErr}
		}
	}
}

// ReadError marks an error from the source side of an [encode] call, so
// callers can tell container problems from destination problems.
type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }
