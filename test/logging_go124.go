//go:build !go1.25

package test

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"testing"
)

// LogOutput buffers log output in memory and replays it line by line through
// [testing.TB.Log] when the test finishes.
func logOutput(t testing.TB) io.Writer {
	w := new(lockedBuffer)
	t.Cleanup(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		s := bufio.NewScanner(&w.buf)
		s.Buffer(nil, 1<<20)
		for s.Scan() {
			t.Log(s.Text())
		}
		if err := s.Err(); err != nil {
			t.Error(err)
		}
	})
	return w
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
