package quarantine

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/test"
)

func TestMain(m *testing.M) {
	test.Main(m)
}

var fixedTime = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func newVault(t *testing.T) *Vault {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "Quarantine"), WithClock(func() time.Time { return fixedTime }))
}

func writeFile(t *testing.T, p string, b []byte) {
	t.Helper()
	if err := os.WriteFile(p, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := test.Logging(t)
	rng := rand.New(rand.NewPCG(3, 4))
	random := make([]byte, 3*ChunkSize+123)
	for i := range random {
		random[i] = byte(rng.UintN(256))
	}
	tt := []struct {
		name    string
		content []byte
	}{
		{"Empty", nil},
		{"KeyBytes", bytes.Repeat([]byte{Key}, 10)},
		{"Text", []byte("X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR")},
		{"Random", random},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			v := newVault(t)
			src := filepath.Join(t.TempDir(), "sample.bin")
			writeFile(t, src, tc.content)

			qpath, err := v.Quarantine(ctx, src, "Test-Label")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("source still present: %v", err)
			}
			if got, want := filepath.Dir(qpath), v.Dir(); got != want {
				t.Errorf("container dir: got %q, want %q", got, want)
			}
			if !strings.HasSuffix(qpath, "_sample.bin"+Extension) {
				t.Errorf("unexpected container name: %q", qpath)
			}

			raw, err := os.ReadFile(qpath)
			if err != nil {
				t.Fatal(err)
			}
			if got, want := len(raw), HeaderSize+len(src)+len(tc.content); got != want {
				t.Fatalf("container size: got %d, want %d", got, want)
			}
			payload := raw[HeaderSize+len(src):]
			for i := range payload {
				if payload[i] != tc.content[i]^Key {
					t.Fatalf("payload byte %d not encoded", i)
				}
			}

			rec, err := Inspect(qpath)
			if err != nil {
				t.Fatal(err)
			}
			want := &Record{
				Header: Header{
					Version: Version,
					Time:    fixedTime,
					PathLen: uint32(len(src)),
					Label:   "Test-Label",
				},
				Path:         qpath,
				OriginalPath: src,
				PayloadSize:  int64(len(tc.content)),
			}
			if !cmp.Equal(rec, want, cmpopts.EquateApproxTime(0)) {
				t.Error(cmp.Diff(rec, want, cmpopts.EquateApproxTime(0)))
			}

			dest, err := v.Restore(ctx, qpath, "")
			if err != nil {
				t.Fatal(err)
			}
			if dest != src {
				t.Errorf("destination: got %q, want %q", dest, src)
			}
			got, err := os.ReadFile(src)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.content) {
				t.Error("restored content differs")
			}
			if _, err := os.Stat(qpath); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("container still present: %v", err)
			}
		})
	}
}

func TestRestoreOverride(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	src := filepath.Join(t.TempDir(), "a.exe")
	writeFile(t, src, []byte("payload"))
	qpath, err := v.Quarantine(ctx, src, "x")
	if err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(t.TempDir(), "b.exe")
	dest, err := v.Restore(ctx, filepath.Base(qpath), other)
	if err != nil {
		t.Fatal(err)
	}
	if dest != other {
		t.Errorf("got: %q, want: %q", dest, other)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("original path written: %v", err)
	}
	if b, _ := os.ReadFile(other); string(b) != "payload" {
		t.Errorf("got: %q", b)
	}
}

func TestRestoreCorrupt(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	writeFile(t, src, []byte("contents"))
	good, err := v.Quarantine(ctx, src, "x")
	if err != nil {
		t.Fatal(err)
	}
	goodBytes, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}

	mutate := map[string]func([]byte) []byte{
		"Empty":     func([]byte) []byte { return nil },
		"Truncated": func(b []byte) []byte { return b[:HeaderSize-10] },
		"Magic": func(b []byte) []byte {
			b[1] = 0
			return b
		},
		"Version": func(b []byte) []byte {
			b[4] = 9
			return b
		},
		"PathLength": func(b []byte) []byte {
			b[16], b[17] = 0xFF, 0xFF
			return b
		},
	}
	for name, f := range mutate {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), name+Extension)
			before := f(bytes.Clone(goodBytes))
			writeFile(t, p, before)
			dest := filepath.Join(t.TempDir(), "out")

			_, err := v.Restore(ctx, p, dest)
			if !errors.Is(err, sigscan.ErrCorrupt) {
				t.Errorf("got: %v, want: %v", err, sigscan.ErrCorrupt)
			}
			if got := StatusOf(err); got != CorruptContainer {
				t.Errorf("status: got %v, want %v", got, CorruptContainer)
			}
			after, err := os.ReadFile(p)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(before, after) {
				t.Error("container modified")
			}
			if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("destination created: %v", err)
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := v.Restore(ctx, filepath.Join(dir, "nope"+Extension), "")
		if got := StatusOf(err); got != CorruptContainer {
			t.Errorf("status: got %v, want %v", got, CorruptContainer)
		}
	})
}

func TestRestoreDestinationError(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	src := filepath.Join(t.TempDir(), "f")
	writeFile(t, src, []byte("contents"))
	qpath, err := v.Quarantine(ctx, src, "x")
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(qpath)
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "missing", "dir", "f")
	_, err = v.Restore(ctx, qpath, dest)
	if !errors.Is(err, sigscan.ErrDestination) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrDestination)
	}
	if got := StatusOf(err); got != DestinationError {
		t.Errorf("status: got %v, want %v", got, DestinationError)
	}
	after, err := os.ReadFile(qpath)
	if err != nil {
		t.Fatalf("container removed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("container modified")
	}
}

func TestRestoreOntoContainer(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	src := filepath.Join(t.TempDir(), "f")
	writeFile(t, src, []byte("contents"))
	qpath, err := v.Quarantine(ctx, src, "x")
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(qpath)
	if err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Link(qpath, link); err != nil {
		link = ""
	}

	tt := map[string]string{
		"Path":       qpath,
		"HardLinked": link,
	}
	for name, dest := range tt {
		t.Run(name, func(t *testing.T) {
			if dest == "" {
				t.Skip("hard links unsupported")
			}
			_, err := v.Restore(ctx, filepath.Base(qpath), dest)
			if !errors.Is(err, sigscan.ErrDestination) {
				t.Errorf("got: %v, want: %v", err, sigscan.ErrDestination)
			}
			if got := StatusOf(err); got != DestinationError {
				t.Errorf("status: got %v, want %v", got, DestinationError)
			}
			after, err := os.ReadFile(qpath)
			if err != nil {
				t.Fatalf("container removed: %v", err)
			}
			if !bytes.Equal(before, after) {
				t.Error("container modified")
			}
		})
	}
}

func TestQuarantineMissingSource(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	_, err := v.Quarantine(ctx, filepath.Join(t.TempDir(), "nope"), "x")
	if !errors.Is(err, sigscan.ErrIO) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrIO)
	}
	recs, err := v.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Errorf("unexpected containers: %v", recs)
	}
}

func TestQuarantineDirectory(t *testing.T) {
	ctx := test.Logging(t)
	v := newVault(t)
	src := t.TempDir()
	_, err := v.Quarantine(ctx, src, "x")
	if !errors.Is(err, sigscan.ErrIO) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrIO)
	}
	ents, err := os.ReadDir(v.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Errorf("partial container left behind: %v", ents)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source touched: %v", err)
	}
}

func TestQuarantineUndeletableSource(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs unix permissions as a regular user")
	}
	ctx := test.Logging(t)
	v := newVault(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "stuck")
	writeFile(t, src, []byte("contents"))
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	qpath, err := v.Quarantine(ctx, src, "x")
	if !errors.Is(err, sigscan.ErrIO) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrIO)
	}
	if qpath == "" {
		t.Fatal("expected container path alongside error")
	}
	if _, err := Inspect(qpath); err != nil {
		t.Errorf("container not complete: %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := test.Logging(t)
	now := fixedTime
	v := New(filepath.Join(t.TempDir(), "Quarantine"), WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	dir := t.TempDir()
	var want []string
	for _, n := range []string{"one", "two", "three"} {
		src := filepath.Join(dir, n)
		writeFile(t, src, []byte(n))
		if _, err := v.Quarantine(ctx, src, n); err != nil {
			t.Fatal(err)
		}
		want = append(want, n)
	}
	writeFile(t, filepath.Join(v.Dir(), "junk"+Extension), []byte("junk"))
	writeFile(t, filepath.Join(v.Dir(), "notes.txt"), []byte("ignored"))

	recs, err := v.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.Label)
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestListMissingDir(t *testing.T) {
	ctx := test.Logging(t)
	v := New(filepath.Join(t.TempDir(), "absent"))
	recs, err := v.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if recs != nil {
		t.Errorf("got: %v", recs)
	}
}

func TestStatusOf(t *testing.T) {
	tt := []struct {
		err  error
		want Status
	}{
		{nil, Success},
		{&sigscan.Error{Kind: sigscan.ErrCorrupt}, CorruptContainer},
		{&sigscan.Error{Kind: sigscan.ErrDestination}, DestinationError},
		{&sigscan.Error{Kind: sigscan.ErrIO}, Failed},
		{errors.New("other"), Failed},
	}
	for _, tc := range tt {
		if got := StatusOf(tc.err); got != tc.want {
			t.Errorf("%v: got %v, want %v", tc.err, got, tc.want)
		}
	}
	if got, want := DestinationError.String(), "destination_error"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}
