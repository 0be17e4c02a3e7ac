package test

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/fosav/sigscan"
)

// CompareDigests compares [sigscan.Digest] values by their text form, so
// diffs print hex rather than byte arrays.
var CompareDigests = cmp.Options{
	cmp.Transformer("MarshalDigest", marshalDigest),
}

// CmpOptions is a bundle of [cmp.Option] for [sigscan] types.
var CmpOptions = cmp.Options{
	CompareDigests,
	cmpopts.EquateEmpty(),
}

func marshalDigest(d sigscan.Digest) string {
	return d.String()
}
