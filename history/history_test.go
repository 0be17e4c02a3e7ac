package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/test"
)

func TestMain(m *testing.M) {
	test.Main(m)
}

func TestEntryText(t *testing.T) {
	e := Entry{
		Time:           time.Date(2024, 3, 1, 12, 30, 5, 0, time.Local),
		Label:          "EICAR-Test-File",
		OriginalPath:   "/home/u/Downloads/eicar.com",
		QuarantinePath: "Quarantine/x_eicar.com.vir",
	}
	b, err := e.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	const want = "2024-03-01 12:30:05|EICAR-Test-File|/home/u/Downloads/eicar.com|Quarantine/x_eicar.com.vir"
	if got := string(b); got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	var got Entry
	if err := got.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, e) {
		t.Error(cmp.Diff(got, e))
	}
}

func TestEntryReject(t *testing.T) {
	for _, e := range []Entry{
		{Label: "a|b"},
		{OriginalPath: "/tmp/line\nbreak"},
		{QuarantinePath: "q\r"},
	} {
		_, err := e.MarshalText()
		if !errors.Is(err, sigscan.ErrInvalid) {
			t.Errorf("%+v: got %v, want %v", e, err, sigscan.ErrInvalid)
		}
	}
}

func TestParse(t *testing.T) {
	ctx := test.Logging(t)
	in := strings.Join([]string{
		"2024-03-01 12:30:05|A|/a|q/a.vir",
		"",
		"garbage",
		"2024-03-01 12:30:05|too|many|fields|here",
		"yesterday|B|/b|q/b.vir",
		"2024-03-02 08:00:00|C|/c|q/c.vir",
	}, "\n")
	var got []string
	for e, err := range Parse(ctx, strings.NewReader(in)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, e.Label)
	}
	if want := []string{"A", "C"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestParseReadError(t *testing.T) {
	ctx := test.Logging(t)
	r := iotest.ErrReader(errors.New("boom"))
	var sawErr bool
	for _, err := range Parse(ctx, r) {
		if err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("expected read error")
	}
}

func TestFile(t *testing.T) {
	ctx := test.Logging(t)
	p := filepath.Join(t.TempDir(), "history.log")
	f := NewFile(p)

	es, err := f.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 0 {
		t.Errorf("expected no entries, got %v", es)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	want := []Entry{
		{Time: base, Label: "A", OriginalPath: "/x/a", QuarantinePath: "/q/1_a.vir"},
		{Time: base.Add(time.Minute), Label: "B", OriginalPath: "/x/b", QuarantinePath: "/q/2_b.vir"},
		{Time: base.Add(2 * time.Minute), Label: "A2", OriginalPath: "/y/a", QuarantinePath: "/q/1_a.vir"},
	}
	for _, e := range want {
		e.Digest = test.Sum(e.Label)
		if err := f.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Record(ctx, Entry{Label: "bad|label"}); !errors.Is(err, sigscan.ErrInvalid) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrInvalid)
	}

	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(b), "\n"); got != len(want) {
		t.Errorf("lines: got %d, want %d", got, len(want))
	}

	got, err := f.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}

	e, err := f.ByContainer(ctx, "/q/1_a.vir")
	if err != nil {
		t.Fatal(err)
	}
	if e.Label != "A2" {
		t.Errorf("got %q, want most recent entry", e.Label)
	}
	e, err = f.ByContainer(ctx, "2_b.vir")
	if err != nil {
		t.Fatal(err)
	}
	if e.Label != "B" {
		t.Errorf("got %q, want %q", e.Label, "B")
	}
	if _, err := f.ByContainer(ctx, "nope.vir"); !errors.Is(err, sigscan.ErrPrecondition) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrPrecondition)
	}
}

type recorderFunc func(context.Context, Entry) error

func (f recorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

func TestMulti(t *testing.T) {
	ctx := test.Logging(t)
	var calls int
	ok := recorderFunc(func(context.Context, Entry) error { calls++; return nil })
	boom := errors.New("boom")
	bad := recorderFunc(func(context.Context, Entry) error { calls++; return boom })

	if err := (Multi{ok, ok}).Record(ctx, Entry{}); err != nil {
		t.Error(err)
	}
	if err := (Multi{bad, ok}).Record(ctx, Entry{}); !errors.Is(err, boom) {
		t.Errorf("got: %v, want: %v", err, boom)
	}
	if calls != 4 {
		t.Errorf("calls: got %d, want 4", calls)
	}
}
