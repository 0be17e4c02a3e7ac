//go:build go1.25

package test

import (
	"io"
	"testing"
)

// LogOutput uses the test's own output stream.
func logOutput(t testing.TB) io.Writer { return t.Output() }
