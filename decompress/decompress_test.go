package decompress

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/sink"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractWritesAllEntriesAndVerifiesHash(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.txt":       "hello",
		"sub/b.txt":   "world",
		"module.json": `{"hash":"expectedhash"}`,
	})

	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/work/module.zip", data, 0o644)

	sinkOut := &countingSink{Noop: sink.Noop{}}
	err := Extract(fsys, sinkOut, "aircraft", "/work/module.zip", "/dest", "expectedhash")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if sinkOut.entries != 3 {
		t.Errorf("expected 3 unzip progress events, got %d", sinkOut.entries)
	}

	for _, p := range []string{"/dest/a.txt", "/dest/sub/b.txt", "/dest/module.json"} {
		if ok, _ := afero.Exists(fsys, p); !ok {
			t.Errorf("expected %s to exist", p)
		}
	}
}

func TestExtractRejectsHashMismatch(t *testing.T) {
	data := buildZip(t, map[string]string{"module.json": `{"hash":"actual"}`})
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/work/module.zip", data, 0o644)

	err := Extract(fsys, sink.Noop{}, "aircraft", "/work/module.zip", "/dest", "expected")
	if ferrors.CodeOf(err) != ferrors.ModuleCrcMismatch {
		t.Fatalf("expected ModuleCrcMismatch, got %v", err)
	}
}

func TestExtractRejectsMissingModuleJSON(t *testing.T) {
	data := buildZip(t, map[string]string{"a.txt": "hello"})
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/work/module.zip", data, 0o644)

	err := Extract(fsys, sink.Noop{}, "aircraft", "/work/module.zip", "/dest", "expected")
	if ferrors.CodeOf(err) != ferrors.ModuleJsonInvalid {
		t.Fatalf("expected ModuleJsonInvalid, got %v", err)
	}
}

func TestExtractRejectsMalformedModuleJSON(t *testing.T) {
	data := buildZip(t, map[string]string{"module.json": "{not json"})
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/work/module.zip", data, 0o644)

	err := Extract(fsys, sink.Noop{}, "aircraft", "/work/module.zip", "/dest", "expected")
	if ferrors.CodeOf(err) != ferrors.ModuleJsonInvalid {
		t.Fatalf("expected ModuleJsonInvalid, got %v", err)
	}
}

func TestExtractReclassifiesCorruptZip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/work/module.zip", []byte("not a zip file at all"), 0o644)

	err := Extract(fsys, sink.Noop{}, "aircraft", "/work/module.zip", "/dest", "expected")
	if ferrors.CodeOf(err) != ferrors.CorruptedZipFile {
		t.Fatalf("expected CorruptedZipFile, got %v", err)
	}
}

type countingSink struct {
	sink.Noop
	entries int
}

func (c *countingSink) UnzipProgress(module string, p sink.UnzipProgress) {
	c.entries++
}
