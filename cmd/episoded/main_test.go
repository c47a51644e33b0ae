package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"episoded/internal/catalog"
	"episoded/internal/common/fsutil"
	"episoded/internal/config"
	"episoded/internal/dataset"
	"episoded/internal/persist"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	for _, want := range []string{"threshold", "EPISODED_THRESHOLD", "EPISODED_SCENE_NUM_TREES", "train_probability"} {
		if !strings.Contains(out, want) {
			t.Fatalf("schema output lacks %q:\n%s", want, out)
		}
	}
}

func TestConfigShowUsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "episoded.yaml")
	body := "threshold: 0.75\ndata_root: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := execute(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "threshold: 0.75") {
		t.Fatalf("show output:\n%s", out)
	}
}

func TestConfigShowRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("threshold: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "--config", path, "config", "show"); err == nil {
		t.Fatalf("negative threshold accepted")
	}
}

func writeArchive(t *testing.T, path string) {
	t.Helper()
	samples := make([]dataset.FrameSample, 2)
	for i := range samples {
		samples[i] = dataset.FrameSample{
			Frame:    3 + i,
			Depth:    dataset.Depth{H: 2, W: 3, Data: make([]float32, 6)},
			Distance: float32(4 - i),
			Action:   dataset.ActionForward,
		}
	}
	a, err := persist.NewArchive(samples)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := fsutil.WriteAtomic(path, a.Encode); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), persist.FileName(1))
	writeArchive(t, path)
	out, err := execute(t, "inspect", path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"samples:  2", "depth:    3x2", "frames:   3..4", dataset.ActionForward.String()} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output lacks %q:\n%s", want, out)
		}
	}
}

func TestInspectMissingFile(t *testing.T) {
	if _, err := execute(t, "inspect", filepath.Join(t.TempDir(), "nope.npz")); err == nil {
		t.Fatalf("missing archive accepted")
	}
}

func TestCatalogList(t *testing.T) {
	dir := t.TempDir()
	store, err := catalog.Open(filepath.Join(dir, catalog.FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e := catalog.Entry{
		Session: "20250101T000000Z_abcd1234", Counter: 1, EpisodeID: 1, Split: persist.SplitTrain,
		Path: "/data/x/train/episode_00001.npz", Samples: 12, SavedAt: time.Now(),
	}
	if err := store.Record(context.Background(), e); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := execute(t, "catalog", "list", "--data-root", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, e.Path) || !strings.Contains(out, e.Session) {
		t.Fatalf("list output:\n%s", out)
	}
	out, err = execute(t, "catalog", "counts", "--data-root", dir)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if !strings.Contains(out, "train\t1") {
		t.Fatalf("counts output:\n%s", out)
	}
}

func TestCatalogMissing(t *testing.T) {
	if _, err := execute(t, "catalog", "list", "--data-root", t.TempDir()); err == nil {
		t.Fatalf("missing catalog accepted")
	}
}

func TestArchivesScan(t *testing.T) {
	dir := t.TempDir()
	split := filepath.Join(dir, "20250101T000000Z_abcd1234", persist.SplitVal)
	if err := fsutil.EnsureDir(split); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeArchive(t, filepath.Join(split, persist.FileName(7)))
	out, err := execute(t, "archives", "--data-root", dir)
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	if !strings.Contains(out, "episode_00007.npz") || !strings.Contains(out, "val") {
		t.Fatalf("archives output:\n%s", out)
	}
}

func TestRunFlagsOverlayOnlyChanged(t *testing.T) {
	cmd := newRunCmd(&rootFlags{})
	if err := cmd.ParseFlags([]string{"--threshold", "0.25", "--train-probability", "0.7"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := &runFlags{threshold: 0.25, trainProb: 0.7}
	cfg := config.Default()
	addr := cfg.Addr
	if err := f.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Threshold != 0.25 || cfg.TrainProbability != 0.7 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Addr != addr {
		t.Fatalf("unchanged flag overwrote addr: %q", cfg.Addr)
	}

	if err := cmd.ParseFlags([]string{"--train-probability", "1.5"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	f.trainProb = 1.5
	if err := f.apply(cmd, &cfg); err == nil {
		t.Fatalf("out-of-range train probability accepted")
	}
}
