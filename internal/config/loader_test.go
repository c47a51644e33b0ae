package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\ndata_root: /tmp/eps\nthreshold: 0.75\ntrain_probability: 0.8\nscene:\n  num_trees: 10\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":9999" || cfg.DataRoot != "/tmp/eps" || cfg.Threshold != 0.75 || cfg.TrainProbability != 0.8 || cfg.Scene.NumTrees != 10 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// untouched keys keep their defaults
	if cfg.SampleStride != 1 || cfg.Scene.AreaSize != 10.0 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","data_root":"/m","sample_stride":5,"catalog":false}`)
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":7070" || cfg.DataRoot != "/m" || cfg.SampleStride != 5 || cfg.Catalog {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\ndata_root=\"/x\"\nthreshold=0.3\n[scene]\nmove_step=0.5\n")
	cfg, err := Load(p)
	if err != nil { t.Fatalf("load: %v", err) }
	if cfg.Addr != ":8081" || cfg.DataRoot != "/x" || cfg.Threshold != 0.3 || cfg.Scene.MoveStep != 0.5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil { t.Fatalf("expected error on empty path") }
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil { t.Fatalf("expected unsupported extension error") }
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	d := t.TempDir()
	for name, body := range map[string]string{
		"cfg.yaml": "threshhold: 0.5\n",
		"cfg.json": `{"threshhold":0.5}`,
		"cfg.toml": "threshhold=0.5\n",
	} {
		p := writeTempFile(t, d, name, body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected unknown key error", name)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("EPISODED_THRESHOLD", "1.25")
	t.Setenv("EPISODED_SCENE_NUM_ROCKS", "3")
	t.Setenv("EPISODED_CORS_ORIGINS", "http://a,http://b")
	cfg := Default()
	if err := ApplyEnv(&cfg); err != nil { t.Fatalf("ApplyEnv: %v", err) }
	if cfg.Threshold != 1.25 || cfg.Scene.NumRocks != 3 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.TrainProbability != 0.9 {
		t.Fatalf("unset env must not clear defaults: %v", cfg.TrainProbability)
	}
}

func TestResolveValidates(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "threshold: -1\ntrain_probability: 1.5\nlog_level: loud\n")
	_, err := Resolve(p)
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("want ValidationErrors, got %v", err)
	}
	if len(verrs.Errors) != 3 {
		t.Fatalf("want 3 errors, got %d: %v", len(verrs.Errors), err)
	}
}

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve("")
	if err != nil { t.Fatalf("Resolve: %v", err) }
	if cfg.Threshold != 0.5 || cfg.TrainProbability != 0.9 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSchemaCoversEveryKey(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range Schema {
		if seen[f.Key] { t.Fatalf("duplicate key %s", f.Key) }
		seen[f.Key] = true
		if f.Default() == "" && f.Type != "string" && f.Type != "[]string" {
			t.Fatalf("%s has no default", f.Key)
		}
		if !strings.HasPrefix(f.Env(), EnvPrefix) { t.Fatalf("%s env=%s", f.Key, f.Env()) }
	}
	for _, k := range []string{"threshold", "train_probability", "sample_stride", "scene.area_size"} {
		if !seen[k] { t.Fatalf("schema missing %s", k) }
	}
	var f Field
	for _, x := range Schema {
		if x.Key == "scene.move_step" { f = x }
	}
	if f.Env() != "EPISODED_SCENE_MOVE_STEP" || f.Default() != "0.2" {
		t.Fatalf("scene.move_step env=%s default=%s", f.Env(), f.Default())
	}
}
