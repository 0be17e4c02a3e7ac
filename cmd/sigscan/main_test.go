package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fosav/sigscan/quarantine"
	"github.com/fosav/sigscan/test"
)

func TestMain(m *testing.M) {
	test.Main(m)
}

const eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

type harness struct {
	t      *testing.T
	Config string
	Work   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, k := range []string{
		"SIGSCAN_CONFIG",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT",
		"OTEL_EXPORTER_OTLP_LOGS_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
	work := t.TempDir()
	db := test.SignatureFile(t, "# EICAR test file", test.Sum(eicar).Hex()+" EICAR-Test-File")
	cfg := strings.Join([]string{
		"signatures: " + db,
		"quarantine_dir: " + filepath.Join(work, "Quarantine"),
		"history_log: " + filepath.Join(work, "history.log"),
		"history_index: " + filepath.Join(work, "history.db"),
		"poll_interval: 10ms",
		"log_level: debug",
	}, "\n")
	p := filepath.Join(work, "sigscan.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return &harness{t: t, Config: p, Work: work}
}

func (h *harness) Run(want int, args ...string) string {
	h.t.Helper()
	var out, errb bytes.Buffer
	code := run(context.Background(), append([]string{"--config", h.Config}, args...), &out, &errb)
	h.t.Logf("sigscan %s\n%s", strings.Join(args, " "), errb.String())
	if code != want {
		h.t.Fatalf("sigscan %v: exit %d, want %d\nstdout:\n%s", args, code, want, out.String())
	}
	return out.String()
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	root := test.Tree(t, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
		"sub/bad":   eicar,
	})
	bad := filepath.Join(root, "sub", "bad")

	out := h.Run(exitThreats, "scan", "--quiet", root)
	for _, want := range []string{"Scan complete", "files scanned:  3", "threats found:  1", bad} {
		if !strings.Contains(out, want) {
			t.Errorf("scan output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Errorf("threat not removed: %v", err)
	}

	out = h.Run(exitOK, "list")
	if !strings.Contains(out, "EICAR-Test-File") || !strings.Contains(out, bad) {
		t.Errorf("list output:\n%s", out)
	}
	out = h.Run(exitOK, "history")
	if !strings.Contains(out, "EICAR-Test-File") {
		t.Errorf("history output:\n%s", out)
	}
	out = h.Run(exitOK, "history", "--pending")
	if !strings.Contains(out, bad) {
		t.Errorf("pending output:\n%s", out)
	}

	recs, err := quarantine.New(filepath.Join(h.Work, "Quarantine")).List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d containers, want 1", len(recs))
	}
	container := recs[0].Path

	out = h.Run(exitOK, "inspect", container)
	if !strings.Contains(out, "EICAR-Test-File") {
		t.Errorf("inspect output:\n%s", out)
	}

	h.Run(exitOK, "restore", filepath.Base(container))
	b, err := os.ReadFile(bad)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != eicar {
		t.Errorf("restored content: %q", b)
	}
	out = h.Run(exitOK, "history", "--pending")
	if strings.Contains(out, bad) {
		t.Errorf("restored entry still pending:\n%s", out)
	}

	h.Run(exitCorrupt, "restore", container)
	h.Run(exitCorrupt, "inspect", container)
}

func TestRestoreFromHistory(t *testing.T) {
	h := newHarness(t)
	root := test.Tree(t, map[string]string{"x/bad": eicar})
	bad := filepath.Join(root, "x", "bad")
	h.Run(exitThreats, "scan", "-q", root)

	recs, err := quarantine.New(filepath.Join(h.Work, "Quarantine")).List(context.Background())
	if err != nil || len(recs) != 1 {
		t.Fatalf("containers: %v, %v", recs, err)
	}
	h.Run(exitOK, "restore", "--from-history", filepath.Base(recs[0].Path))
	if _, err := os.Stat(bad); err != nil {
		t.Error(err)
	}
}

func TestRestoreDestination(t *testing.T) {
	h := newHarness(t)
	root := test.Tree(t, map[string]string{"bad": eicar})
	h.Run(exitThreats, "scan", "-q", root)
	recs, err := quarantine.New(filepath.Join(h.Work, "Quarantine")).List(context.Background())
	if err != nil || len(recs) != 1 {
		t.Fatalf("containers: %v, %v", recs, err)
	}
	h.Run(exitDestination, "restore", "--to", filepath.Join(root, "no", "such", "dir"), recs[0].Path)
	if _, err := os.Stat(recs[0].Path); err != nil {
		t.Errorf("container removed: %v", err)
	}
}

func TestScanClean(t *testing.T) {
	h := newHarness(t)
	root := test.Tree(t, map[string]string{"a": "a"})
	out := h.Run(exitOK, "scan", root)
	if !strings.Contains(out, "threats found:  0") {
		t.Errorf("scan output:\n%s", out)
	}
}

func TestScanArgs(t *testing.T) {
	h := newHarness(t)
	h.Run(exitFailure, "scan")
	h.Run(exitFailure, "scan", "--quick", "--full")
	h.Run(exitFailure, "scan", "--quick", "/tmp")
	h.Run(exitFailure, "scan", "--db", filepath.Join(h.Work, "missing.db"), h.Work)
}

func TestTail(t *testing.T) {
	tt := []struct {
		in   string
		n    int
		want string
	}{
		{"", 40, ""},
		{"short", 40, "short"},
		{"abcdef", 3, "...def"},
		{"ééééé", 2, "...éé"},
	}
	for _, tc := range tt {
		if got := tail(tc.in, tc.n); got != tc.want {
			t.Errorf("tail(%q, %d): got %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

// Collector records the request paths an OTLP/HTTP exporter sends to it.
type collector struct {
	mu    sync.Mutex
	paths map[string]int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths[r.URL.Path]++
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *collector) Count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paths[path]
}

// Telemetry must be flushed on every exit path, including the non-zero
// status returned when threats are found.
func TestTelemetryFlush(t *testing.T) {
	tt := []struct {
		name  string
		files map[string]string
		code  int
	}{
		{"Clean", map[string]string{"a.txt": "hello"}, exitOK},
		{"Threats", map[string]string{"a.txt": "hello", "bad": eicar}, exitThreats},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			c := &collector{paths: make(map[string]int)}
			srv := httptest.NewServer(c)
			t.Cleanup(srv.Close)
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", srv.URL)

			h.Run(tc.code, "scan", "--quiet", test.Tree(t, tc.files))
			if c.Count("/v1/logs") == 0 {
				t.Error("no log records exported")
			}
		})
	}
}
