package quarantine

import (
	"errors"

	"github.com/fosav/sigscan"
)

// Status classifies the outcome of [Vault.Restore].
type Status int

//go:generate go tool stringer -type=Status -linecomment

const (
	Success          Status = iota // success
	CorruptContainer               // corrupt_container
	DestinationError               // destination_error
	Failed                         // failed
)

// StatusOf maps an error returned by [Vault.Restore] to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, sigscan.ErrCorrupt):
		return CorruptContainer
	case errors.Is(err, sigscan.ErrDestination):
		return DestinationError
	default:
		return Failed
	}
}
