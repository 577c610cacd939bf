package manifest

import (
	"encoding/json"
	"testing"
)

func TestDistributionManifestRoundTrip(t *testing.T) {
	d := DistributionManifest{
		Modules: []Module{
			&SimpleModule{
				Name:    "aircraft-a32nx",
				DestDir: "aircraft/a32nx",
				Download: &DownloadFile{
					Path:                         "aircraft-a32nx.zip",
					Hash:                         "deadbeef",
					Compression:                  CompressionZip,
					SplitFileCount:               1,
					CompleteFileSize:             1024,
					CompleteFileSizeUncompressed: 2048,
				},
			},
			&AlternativesModule{
				Name:    "livery",
				DestDir: "liveries",
				Alternatives: []Alternative{
					{Key: "alt-a", DisplayName: "Alt A", Download: &DownloadFile{Path: "livery/alt-a.zip", Hash: "h1"}},
					{Key: "alt-b", DisplayName: "Alt B", Download: &DownloadFile{Path: "livery/alt-b.zip", Hash: "h2"}},
				},
			},
		},
		Base:     Base{Hash: "basehash", Files: []string{"manual.pdf"}},
		FullHash: "fullhash",
	}

	data, err := json.Marshal(&d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded DistributionManifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(decoded.Modules) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(decoded.Modules))
	}

	simple, ok := decoded.Modules[0].(*SimpleModule)
	if !ok {
		t.Fatalf("expected *SimpleModule, got %T", decoded.Modules[0])
	}
	if simple.Name != "aircraft-a32nx" || simple.Download.Hash != "deadbeef" {
		t.Errorf("simple module round-trip mismatch: %+v", simple)
	}

	alts, ok := decoded.Modules[1].(*AlternativesModule)
	if !ok {
		t.Fatalf("expected *AlternativesModule, got %T", decoded.Modules[1])
	}
	if len(alts.Alternatives) != 2 || alts.Alternatives[1].Download.Hash != "h2" {
		t.Errorf("alternatives module round-trip mismatch: %+v", alts)
	}
}

func TestResolvedFile(t *testing.T) {
	simple := &SimpleModule{Name: "a", Download: &DownloadFile{Hash: "h"}}
	if f, ok := ResolvedFile(simple, ""); !ok || f.Hash != "h" {
		t.Errorf("simple resolution failed: %+v, %v", f, ok)
	}

	alts := &AlternativesModule{
		Name: "livery",
		Alternatives: []Alternative{
			{Key: "alt-a", Download: &DownloadFile{Hash: "ha"}},
			{Key: "alt-b", Download: &DownloadFile{Hash: "hb"}},
		},
	}
	if f, ok := ResolvedFile(alts, "alt-b"); !ok || f.Hash != "hb" {
		t.Errorf("alternative resolution failed: %+v, %v", f, ok)
	}
	if _, ok := ResolvedFile(alts, "missing"); ok {
		t.Error("expected resolution failure for missing key")
	}
}

func TestIsAlternatives(t *testing.T) {
	if IsAlternatives(&SimpleModule{}) {
		t.Error("simple module reported as alternatives")
	}
	if !IsAlternatives(&AlternativesModule{}) {
		t.Error("alternatives module not reported as alternatives")
	}
}

func TestModuleByName(t *testing.T) {
	d := DistributionManifest{Modules: []Module{
		&SimpleModule{Name: "a"},
		&SimpleModule{Name: "b"},
	}}
	if d.ModuleByName("b") == nil {
		t.Error("expected to find module b")
	}
	if d.ModuleByName("missing") != nil {
		t.Error("expected nil for missing module")
	}
}

func TestInstallManifestModuleByName(t *testing.T) {
	im := InstallManifest{Modules: []InstalledModule{
		{Name: "a", Hash: "ha"},
		{Name: "b", Hash: "hb", InstalledAlternativeKey: "alt-a"},
	}}
	m := im.ModuleByName("b")
	if m == nil || m.InstalledAlternativeKey != "alt-a" {
		t.Errorf("expected installed module b with alt-a, got %+v", m)
	}
}

func TestDecodeModuleRejectsUnknownKind(t *testing.T) {
	_, err := decodeModule(json.RawMessage(`{"kind":"mystery"}`))
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
