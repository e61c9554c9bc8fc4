package dirstore

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

type runMeta struct {
	Job   string `json:"job"`
	Tasks int    `json:"tasks"`
}

type line struct {
	TaskID string `json:"task_id"`
	OK     bool   `json:"ok"`
}

func TestWriteReadMeta(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")
	id := "run_abc123"

	if ds.Exists(id) {
		t.Fatal("Exists before write")
	}
	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	want := runMeta{Job: "transfer.yaml", Tasks: 10}
	if err := ds.WriteMeta(id, want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
	if !ds.Exists(id) {
		t.Error("Exists after write: got false")
	}

	var got runMeta
	if err := ds.ReadMeta(id, &got); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got != want {
		t.Errorf("ReadMeta = %+v, want %+v", got, want)
	}
	if _, err := os.Stat(ds.FilePath(id, "meta.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestReadMetaNotFound(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")

	var out runMeta
	err := ds.ReadMeta("run_missing", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if want := "run run_missing: not found"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestListDirs(t *testing.T) {
	base := t.TempDir()
	ds := NewDirStore(base, "run")

	for _, name := range []string{"run_c", "run_a", "run_b"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0o755); err != nil {
			t.Fatalf("MkdirAll %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if want := []string{"run_a", "run_b", "run_c"}; !slices.Equal(got, want) {
		t.Errorf("ListDirs = %v, want %v", got, want)
	}
}

func TestListDirsNonExistent(t *testing.T) {
	ds := NewDirStore(filepath.Join(t.TempDir(), "nope"), "run")
	got, err := ds.ListDirs()
	if err != nil || got != nil {
		t.Errorf("ListDirs = %v, %v; want nil, nil", got, err)
	}
}

func TestAppendAndLoadJSONL(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")
	id := "run_1"
	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	want := []line{{"task_1", true}, {"task_2", false}, {"task_3", true}}
	for _, l := range want {
		if err := ds.AppendJSONL(id, "results.jsonl", l); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	got, err := LoadJSONL[line](ds, id, "results.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("LoadJSONL = %+v, want %+v", got, want)
	}
}

func TestLoadJSONLSkipsTornLine(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")
	id := "run_1"
	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	content := `{"task_id":"task_1","ok":true}` + "\n\n" + `{"task_id":"task_2","o`
	if err := os.WriteFile(ds.FilePath(id, "results.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LoadJSONL[line](ds, id, "results.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(got) != 1 || got[0].TaskID != "task_1" {
		t.Errorf("LoadJSONL = %+v", got)
	}
}

func TestLoadJSONLMissingFile(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")
	got, err := LoadJSONL[line](ds, "run_x", "results.jsonl")
	if err != nil || got != nil {
		t.Errorf("LoadJSONL = %v, %v; want nil, nil", got, err)
	}
}

func TestEnsureDirRemoveDir(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "run")
	id := "run_gone"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if _, err := os.Stat(ds.Dir(id)); err != nil {
		t.Fatalf("dir missing after EnsureDir: %v", err)
	}
	if err := ds.RemoveDir(id); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if _, err := os.Stat(ds.Dir(id)); !os.IsNotExist(err) {
		t.Errorf("dir still present after RemoveDir")
	}
}
