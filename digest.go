package sigscan

import (
	"bytes"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// DigestAlgorithm is the only algorithm a [Digest] carries.
const DigestAlgorithm = "sha256"

// Digest is a SHA-256 content digest.
//
// The zero value is a valid (all-zero) digest; use [Digest.IsZero] to detect
// "no digest".
type Digest [sha256.Size]byte

// Checksum returns the raw digest bytes.
func (d Digest) Checksum() []byte { return d[:] }

// Algorithm always reports "sha256".
func (d Digest) Algorithm() string { return DigestAlgorithm }

// Hex returns the bare lower-case hex encoding of the digest.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether every byte of the digest is zero.
func (d Digest) IsZero() bool { return d == Digest{} }

func (d Digest) String() string {
	b, _ := d.MarshalText()
	return string(b)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	el := hex.EncodedLen(len(d))
	hl := len(DigestAlgorithm) + 1
	b := make([]byte, hl+el)
	copy(b, DigestAlgorithm)
	b[len(DigestAlgorithm)] = ':'
	hex.Encode(b[hl:], d[:])
	return b, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
//
// Both the "sha256:<hex>" form and bare hex are accepted.
func (d *Digest) UnmarshalText(t []byte) error {
	if i := bytes.IndexByte(t, ':'); i != -1 {
		if string(t[:i]) != DigestAlgorithm {
			return fmt.Errorf("invalid digest algorithm %q", t[:i])
		}
		t = t[i+1:]
	}
	if len(t) != hex.EncodedLen(len(d)) {
		return fmt.Errorf("invalid digest length %d", len(t))
	}
	var sum Digest
	if _, err := hex.Decode(sum[:], t); err != nil {
		return fmt.Errorf("invalid digest format")
	}
	*d = sum
	return nil
}

// Scan implements sql.Scanner.
func (d *Digest) Scan(i interface{}) error {
	switch v := i.(type) {
	case nil:
		*d = Digest{}
		return nil
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("invalid digest type")
	}
}

// Value implements driver.Valuer.
//
// The zero digest is stored as NULL.
func (d Digest) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	b, err := d.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// NewDigest copies "sum" into a Digest. It reports an error if "sum" is not
// exactly 32 bytes.
func NewDigest(sum []byte) (Digest, error) {
	var d Digest
	if len(sum) != len(d) {
		return d, fmt.Errorf("invalid digest length %d", len(sum))
	}
	copy(d[:], sum)
	return d, nil
}

// ParseDigest parses the text form produced by [Digest.String], or bare hex.
func ParseDigest(digest string) (Digest, error) {
	d := Digest{}
	return d, d.UnmarshalText([]byte(digest))
}

// DigestFromHex decodes exactly 64 hex characters (either case) into a
// Digest. No prefix is allowed.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(len(d)) {
		return d, fmt.Errorf("invalid digest length %d", len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, fmt.Errorf("invalid digest format: %w", err)
	}
	return d, nil
}
