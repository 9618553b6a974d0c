package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileLoaderExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "UPDATE_ORDER.prc"), "BEGIN NULL; END;")

	code, err := NewFileLoader(dir).Load("UPDATE_ORDER")
	if err != nil {
		t.Fatal(err)
	}
	if code != "BEGIN NULL; END;" {
		t.Errorf("unexpected code: %q", code)
	}
}

func TestFileLoaderCaseInsensitiveRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "update_order.prc"), "BEGIN X; END;")

	code, err := NewFileLoader(dir).Load("UPDATE_ORDER")
	if err != nil {
		t.Fatal(err)
	}
	if code != "BEGIN X; END;" {
		t.Errorf("case-insensitive lookup failed: %q", code)
	}
}

func TestFileLoaderMissIsNotAnError(t *testing.T) {
	code, err := NewFileLoader(t.TempDir()).Load("GHOST")
	if err != nil || code != "" {
		t.Errorf("miss should be empty without error, got %q, %v", code, err)
	}
}

func TestFileLoaderEmptyFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "EMPTY.prc"), "   \n  ")

	code, err := NewFileLoader(dir).Load("EMPTY")
	if err != nil || code != "" {
		t.Errorf("empty file should be a miss, got %q, %v", code, err)
	}
}

func TestFileLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.prc"), "BODY A")
	writeFile(t, filepath.Join(dir, "nested", "b.prc"), "BODY B")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "empty.prc"), "")

	files, err := NewFileLoader(dir).LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %+v", files)
	}
	byName := map[string]ProcFile{}
	for _, f := range files {
		byName[f.Name] = f
	}
	if byName["A"].Code != "BODY A" || byName["B"].Code != "BODY B" {
		t.Errorf("unexpected contents: %+v", byName)
	}
	if byName["A"].Digest == 0 || byName["A"].Digest == byName["B"].Digest {
		t.Error("digests should be set and distinct")
	}
}
