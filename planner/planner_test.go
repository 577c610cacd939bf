package planner

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/manifest"
)

func simpleModule(name, hash string, size uint64) *manifest.SimpleModule {
	return &manifest.SimpleModule{
		Name:    name,
		DestDir: name,
		Download: &manifest.DownloadFile{
			Hash:                         hash,
			CompleteFileSize:             size,
			CompleteFileSizeUncompressed: size * 2,
		},
	}
}

func TestPlanFreshInstallAddsEveryModule(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dist := &manifest.DistributionManifest{
		Modules:                          []manifest.Module{simpleModule("a32nx", "h1", 100)},
		FullCompleteFileSize:             500,
		FullCompleteFileSizeUncompressed: 1000,
	}

	plan, err := Plan(fsys, dist, "/install", Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.IsFreshInstall || !plan.BaseChanged || !plan.NeedsUpdate {
		t.Fatalf("expected fresh install with baseChanged and needsUpdate, got %+v", plan)
	}
	if len(plan.Added) != 1 {
		t.Fatalf("expected 1 added module, got %d", len(plan.Added))
	}
	if plan.DownloadSize != 500 || plan.RequiredDiskSpace != 1000 {
		t.Errorf("expected full-fragment sizes, got download=%d disk=%d", plan.DownloadSize, plan.RequiredDiskSpace)
	}
}

func writeInstallManifest(t *testing.T, fsys afero.Fs, path string, im *manifest.InstallManifest) {
	t.Helper()
	data, err := json.Marshal(im)
	if err != nil {
		t.Fatalf("marshal install manifest: %v", err)
	}
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		t.Fatalf("write install manifest: %v", err)
	}
}

func TestPlanDetectsAddedRemovedUpdatedUnchanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	existing := &manifest.InstallManifest{
		Base: manifest.Base{Hash: "base1"},
		Modules: []manifest.InstalledModule{
			{Name: "unchanged-mod", Hash: "h-unchanged"},
			{Name: "updated-mod", Hash: "h-old"},
			{Name: "removed-mod", Hash: "h-removed"},
		},
	}
	writeInstallManifest(t, fsys, "/install/install.json", existing)

	dist := &manifest.DistributionManifest{
		Base: manifest.Base{Hash: "base1"},
		Modules: []manifest.Module{
			simpleModule("unchanged-mod", "h-unchanged", 10),
			simpleModule("updated-mod", "h-new", 20),
			simpleModule("added-mod", "h-added", 30),
		},
	}

	plan, err := Plan(fsys, dist, "/install", Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.IsFreshInstall {
		t.Fatal("did not expect fresh install")
	}
	if plan.BaseChanged {
		t.Error("did not expect baseChanged")
	}
	if len(plan.Added) != 1 || plan.Added[0].Module.ModuleName() != "added-mod" {
		t.Errorf("expected added=[added-mod], got %+v", plan.Added)
	}
	if len(plan.Removed) != 1 || plan.Removed[0] != "removed-mod" {
		t.Errorf("expected removed=[removed-mod], got %+v", plan.Removed)
	}
	if len(plan.Updated) != 1 || plan.Updated[0].Module.ModuleName() != "updated-mod" {
		t.Errorf("expected updated=[updated-mod], got %+v", plan.Updated)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0] != "unchanged-mod" {
		t.Errorf("expected unchanged=[unchanged-mod], got %+v", plan.Unchanged)
	}
	if !plan.NeedsUpdate {
		t.Error("expected needsUpdate true")
	}

	wantDownload := uint64(20 + 30)
	if plan.DownloadSize != wantDownload {
		t.Errorf("expected downloadSize %d, got %d", wantDownload, plan.DownloadSize)
	}
}

func TestPlanMatchingAlternativeKeyIsNotUpdated(t *testing.T) {
	fsys := afero.NewMemMapFs()
	existing := &manifest.InstallManifest{
		Modules: []manifest.InstalledModule{
			{Name: "livery", Hash: "same-hash", InstalledAlternativeKey: "red"},
		},
	}
	writeInstallManifest(t, fsys, "/install/install.json", existing)

	dist := &manifest.DistributionManifest{
		Modules: []manifest.Module{
			&manifest.AlternativesModule{
				Name: "livery",
				Alternatives: []manifest.Alternative{
					{Key: "red", Download: &manifest.DownloadFile{Hash: "same-hash"}},
				},
			},
		},
	}

	plan, err := Plan(fsys, dist, "/install", Options{ModuleAlternativesMap: map[string]string{"livery": "red"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Updated) != 0 {
		t.Errorf("expected no updated modules when key and hash both match, got %+v", plan.Updated)
	}
	if len(plan.Unchanged) != 1 {
		t.Errorf("expected 1 unchanged module, got %d", len(plan.Unchanged))
	}
}

func TestPlanAlternativesModuleWithoutChosenKeyIsInvalidOptions(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dist := &manifest.DistributionManifest{
		Modules: []manifest.Module{
			&manifest.AlternativesModule{
				Name: "livery",
				Alternatives: []manifest.Alternative{
					{Key: "red", Download: &manifest.DownloadFile{Hash: "h"}},
				},
			},
		},
	}

	_, err := Plan(fsys, dist, "/install", Options{})
	if ferrors.CodeOf(err) != ferrors.InvalidOptions {
		t.Fatalf("expected InvalidOptions, got %v", err)
	}
}

func TestPlanForceFullInstallRatioEscalates(t *testing.T) {
	fsys := afero.NewMemMapFs()
	existing := &manifest.InstallManifest{
		Modules: []manifest.InstalledModule{
			{Name: "a", Hash: "ha"},
			{Name: "b", Hash: "hb"},
		},
	}
	writeInstallManifest(t, fsys, "/install/install.json", existing)

	dist := &manifest.DistributionManifest{
		Modules: []manifest.Module{
			simpleModule("a", "ha-new", 10),
			simpleModule("b", "hb-new", 10),
		},
		FullCompleteFileSize:             999,
		FullCompleteFileSizeUncompressed: 1999,
	}

	plan, err := Plan(fsys, dist, "/install", Options{ForceFullInstallRatio: 0.5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.WillFullyReDownload {
		t.Fatal("expected willFullyReDownload when ratio exceeded")
	}
	if plan.DownloadSize != 999 || plan.RequiredDiskSpace != 1999 {
		t.Errorf("expected full-fragment sizes after escalation, got download=%d disk=%d", plan.DownloadSize, plan.RequiredDiskSpace)
	}
}
