// Package sigscan holds the domain types shared by the signature scanner's
// packages.
//
// The scanner pipeline is split across packages:
//
//   - [github.com/fosav/sigscan/walk] enumerates files under a root.
//   - [github.com/fosav/sigscan/filehash] computes content digests.
//   - [github.com/fosav/sigscan/sigdb] loads known-bad digests.
//   - [github.com/fosav/sigscan/quarantine] moves matches into containers
//     and restores them.
//   - [github.com/fosav/sigscan/history] records quarantine events.
//   - [github.com/fosav/sigscan/scan] drives a whole scan and exposes
//     pollable progress.
package sigscan
