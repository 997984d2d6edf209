package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"granamodel/internal/sim/agent"
)

func readJSONL[T any](t *testing.T, path string) []T {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []T
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "samples")
	at := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readJSONL[map[string]int](t, filepath.Join(dir, "samples-2024-05-01-10.jsonl.zst"))
	second := readJSONL[map[string]int](t, filepath.Join(dir, "samples-2024-05-01-11.jsonl.zst"))
	if len(first) != 1 || first[0]["n"] != 1 || len(second) != 1 || second[0]["n"] != 2 {
		t.Fatalf("rotation: %v / %v", first, second)
	}
}

func TestReportLogger_WritesZonesAndSweeps(t *testing.T) {
	dir := t.TempDir()
	l := NewReportLogger(dir, nil)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l.zones.now = func() time.Time { return at }
	l.sweeps.now = func() time.Time { return at }

	l.ZoneDone(agent.ZoneReport{RunID: "r", Sweep: 1, Zone: 0, Size: 4, Actions: 50, Accepted: 30, Rejected: 20, Mean: 3.5, Elapsed: 1500 * time.Millisecond})
	l.ZoneDone(agent.ZoneReport{RunID: "r", Sweep: 1, Zone: 1, Snapshot: "a.csv"})
	l.SweepDone(agent.SweepReport{RunID: "r", Sweep: 1, Samples: 100, Begin: 10, End: 5, Reduction: agent.ReductionPercent(10, 5)})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	zones := readJSONL[ZoneEntry](t, filepath.Join(dir, "zones", "zones-2024-05-01-10.jsonl.zst"))
	if len(zones) != 2 || zones[0].Accepted != 30 || zones[0].ElapsedMS != 1500 || zones[1].Snapshot != "a.csv" {
		t.Fatalf("zones: %+v", zones)
	}
	sweeps := readJSONL[SweepEntry](t, filepath.Join(dir, "sweeps", "sweeps-2024-05-01-10.jsonl.zst"))
	if len(sweeps) != 1 || sweeps[0].Reduction <= 49 || sweeps[0].Reduction >= 50 {
		t.Fatalf("sweeps: %+v", sweeps)
	}
}

func TestSampleLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewSampleLogger(dir)
	l.w.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	if err := l.WriteSweep("r", 2, []float64{3, 2.5, 2.5}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := readJSONL[SampleEntry](t, filepath.Join(dir, "samples", "samples-2024-05-01-00.jsonl.zst"))
	if len(got) != 1 || got[0].Sweep != 2 || len(got[0].Samples) != 3 {
		t.Fatalf("samples: %+v", got)
	}
}
