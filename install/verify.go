package install

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/hashtree"
	"github.com/flybywiresim/fragmenter/manifest"
)

// VerifyReport is the outcome of checking an installed package's on-disk
// state against the install.json it was installed from.
type VerifyReport struct {
	Manifest   *manifest.InstallManifest
	Mismatches []string
}

// OK reports whether verification found no problems.
func (r *VerifyReport) OK() bool { return len(r.Mismatches) == 0 }

// Verify recomputes every installed module's content hash and checks base
// files for existence, per §3/§6. Module hashing fans out across
// Options.MaxDownloadWorkers goroutines at a time (bounded, never exceeding
// one hash per module) since each module's staged tree is independent and
// disk-bound — the reassembly-verification parallelism §6 names, applied
// here to re-verifying an already-installed tree instead of a freshly
// downloaded one.
func Verify(fsys afero.Fs, destDir string, opts Options) (*VerifyReport, error) {
	data, err := afero.ReadFile(fsys, destDir+"/install.json")
	if err != nil {
		return nil, ferrors.Wrap(err, "read install.json in "+destDir)
	}

	var im manifest.InstallManifest
	if err := json.Unmarshal(data, &im); err != nil {
		return nil, ferrors.New(ferrors.InvalidDistributionManifest, "malformed install.json: "+err.Error())
	}

	report := &VerifyReport{Manifest: &im}

	for _, relPath := range im.Base.Files {
		if ok, _ := afero.Exists(fsys, destDir+"/"+relPath); !ok {
			report.Mismatches = append(report.Mismatches, "base file missing: "+relPath)
		}
	}

	roots := make(map[string]string, len(im.Modules))
	for _, mod := range im.Modules {
		roots[mod.Name] = destDir + "/" + mod.DestDir
	}
	results := hashtree.TreeAllBounded(fsys, roots, opts.maxDownloadWorkers())

	for _, mod := range im.Modules {
		result := results[mod.Name]
		if result.Err != nil {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: %v", mod.Name, result.Err))
			continue
		}
		if result.Hash != mod.Hash {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: hash mismatch (want %s, got %s)", mod.Name, mod.Hash, result.Hash))
		}
	}

	sort.Strings(report.Mismatches)
	return report, nil
}
