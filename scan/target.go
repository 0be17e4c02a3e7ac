package scan

import (
	"os"
	"path/filepath"

	"github.com/fosav/sigscan"
)

// Mode selects what a [Target] covers.
type Mode int

//go:generate go tool stringer -type=Mode -linecomment

// Scan modes.
const (
	ModePath  Mode = iota // path
	ModeQuick             // quick
	ModeFull              // full
)

// Mode strings accepted by [ParseTarget].
const (
	QuickScan  = "QUICK_SCAN"
	FullSystem = "FULL_SYSTEM"
)

// Target describes what to scan.
type Target struct {
	Mode Mode
	// Path is the root for ModePath targets.
	Path string
}

// ParseTarget interprets "s" as one of the mode strings or as a path.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "":
		return Target{}, &sigscan.Error{
			Op:      "scan.ParseTarget",
			Kind:    sigscan.ErrInvalid,
			Message: "empty target",
		}
	case QuickScan:
		return Target{Mode: ModeQuick}, nil
	case FullSystem:
		return Target{Mode: ModeFull}, nil
	}
	return Target{Mode: ModePath, Path: s}, nil
}

// String implements [fmt.Stringer].
func (t Target) String() string {
	switch t.Mode {
	case ModeQuick:
		return QuickScan
	case ModeFull:
		return FullSystem
	default:
		return t.Path
	}
}

// DefaultQuickRoots returns the per-user directories covered by a quick
// scan: Downloads and Desktop in the user's home directory.
func DefaultQuickRoots() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, &sigscan.Error{
			Op:      "scan.DefaultQuickRoots",
			Kind:    sigscan.ErrPrecondition,
			Message: "unable to determine home directory",
			Inner:   err,
		}
	}
	return []string{
		filepath.Join(home, "Downloads"),
		filepath.Join(home, "Desktop"),
	}, nil
}
