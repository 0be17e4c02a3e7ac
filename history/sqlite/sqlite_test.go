package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fosav/sigscan"
	"github.com/fosav/sigscan/history"
	"github.com/fosav/sigscan/test"
)

func TestMain(m *testing.M) {
	test.Main(m)
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	ctx := test.Logging(t)
	idx, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := idx.Close(); err != nil {
			t.Error(err)
		}
	})
	return idx
}

func TestIndex(t *testing.T) {
	ctx := test.Logging(t)
	idx := openIndex(t)

	base := time.Unix(1700000000, 0)
	want := []history.Entry{
		{Time: base, Label: "A", OriginalPath: "/x/a", QuarantinePath: "/q/1_a.vir", Digest: test.Sum("a")},
		{Time: base.Add(time.Minute), Label: "B", OriginalPath: "/x/b", QuarantinePath: "/q/2_b.vir"},
	}
	for _, e := range want {
		if err := idx.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, err := idx.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, want, test.CmpOptions) {
		t.Error(cmp.Diff(got, want, test.CmpOptions))
	}

	e, err := idx.ByContainer(ctx, "/q/2_b.vir")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(e, want[1], test.CmpOptions) {
		t.Error(cmp.Diff(e, want[1], test.CmpOptions))
	}
	if _, err := idx.ByContainer(ctx, "/q/none.vir"); !errors.Is(err, sigscan.ErrPrecondition) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrPrecondition)
	}

	if err := idx.MarkRestored(ctx, "/q/1_a.vir", base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkRestored(ctx, "/q/none.vir", base); !errors.Is(err, sigscan.ErrPrecondition) {
		t.Errorf("got: %v, want: %v", err, sigscan.ErrPrecondition)
	}
	pending, err := idx.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(pending, want[1:], test.CmpOptions) {
		t.Error(cmp.Diff(pending, want[1:], test.CmpOptions))
	}
}

func TestIndexReplace(t *testing.T) {
	ctx := test.Logging(t)
	idx := openIndex(t)
	e := history.Entry{Time: time.Unix(1, 0), Label: "old", QuarantinePath: "/q/c.vir"}
	if err := idx.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := idx.MarkRestored(ctx, e.QuarantinePath, time.Unix(2, 0)); err != nil {
		t.Fatal(err)
	}
	e.Label = "new"
	if err := idx.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := idx.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Label != "new" {
		t.Errorf("got: %+v", got)
	}
}

func TestIndexReopen(t *testing.T) {
	ctx := test.Logging(t)
	p := filepath.Join(t.TempDir(), "history.db")
	idx, err := Open(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Record(ctx, history.Entry{Time: time.Unix(1, 0), Label: "x", QuarantinePath: "/q/x.vir"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = Open(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	es, err := idx.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 {
		t.Errorf("got %d entries, want 1", len(es))
	}
}
