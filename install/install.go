// Package install implements the Install Orchestrator (§4.F): the state
// machine that sequences update planning, per-module download/decompress,
// backup/apply/restore, and writes the new install manifest.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/cancel"
	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/fsops"
	"github.com/flybywiresim/fragmenter/manifest"
	"github.com/flybywiresim/fragmenter/planner"
	"github.com/flybywiresim/fragmenter/sink"
	"github.com/flybywiresim/fragmenter/transport"
)

// Result is what a successful Install call returns.
type Result struct {
	Changed  bool
	Manifest *manifest.InstallManifest
}

// Installer runs one install against destDir, sourced from baseURL.
type Installer struct {
	Doer    transport.Doer
	Fs      afero.Fs
	Sink    sink.EventSink
	Token   *cancel.Token
	BaseURL string
	DestDir string
	Options Options
}

func (in *Installer) sinkOut() sink.EventSink {
	if in.Sink == nil {
		return sink.Noop{}
	}
	return in.Sink
}

// Install runs the full NotStarted → Done state machine (§4.F).
func (in *Installer) Install(ctx context.Context) (*Result, error) {
	sinkOut := in.sinkOut()
	sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseNotStarted})
	sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseUpdateCheck})

	cacheBustManifest := in.Options.ForceManifestCacheBust || in.Options.ForceCacheBust
	dist, err := planner.FetchManifest(ctx, in.Doer, in.BaseURL, cacheBustManifest)
	if err != nil {
		return nil, err
	}

	plan, err := planner.Plan(in.Fs, dist, in.DestDir, planner.Options{
		ModuleAlternativesMap: in.Options.ModuleAlternativesMap,
		ForceFullInstallRatio: in.Options.ForceFullInstallRatio,
	})
	if err != nil {
		return nil, err
	}

	if !plan.NeedsUpdate && !in.Options.ForceFreshInstall {
		return &Result{Changed: false, Manifest: plan.Existing}, nil
	}

	sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseInstallBegin})

	tempDir := in.Options.TemporaryDirectory
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "fragmenter-"+uuid.NewString())
	}
	if err := fsops.EnsureDir(in.Fs, tempDir); err != nil {
		return nil, err
	}
	defer func() {
		_ = fsops.RemoveAll(in.Fs, tempDir)
	}()

	restoreRoot := tempDir + "/restore"
	sinkOut.BackupStarted()
	if err := fsops.MoveTree(in.Fs, in.DestDir, restoreRoot, true); err != nil {
		return nil, err
	}
	sinkOut.BackupFinished()

	full := plan.IsFreshInstall || in.Options.ForceFreshInstall || plan.WillFullyReDownload || allExistingChangedOrRemoved(plan)

	applyErr := in.apply(ctx, dist, plan, tempDir, restoreRoot, full)
	if applyErr != nil {
		if ferrors.CodeOf(applyErr) == ferrors.MaxModuleRetries && !in.Options.DisableFallbackToFull && !full {
			sinkOut.Log(sink.LogWarn, "modular update exhausted retries, falling back to full install")
			applyErr = in.apply(ctx, dist, plan, tempDir, restoreRoot, true)
		}
	}

	if applyErr != nil {
		sinkOut.Error(applyErr)
		if ferrors.CodeOf(applyErr) == ferrors.UserAborted {
			sinkOut.Cancelled()
		}
		sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseInstallFailRestore})
		if restoreErr := in.restore(restoreRoot); restoreErr != nil {
			sinkOut.Error(restoreErr)
			applyErr = multierror.Append(applyErr, restoreErr)
		}
		sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseDone})
		return nil, applyErr
	}

	newManifest := buildInstallManifest(dist, plan, full, in.BaseURL, in.Options.ModuleAlternativesMap)
	if err := writeInstallManifest(in.Fs, in.DestDir, newManifest); err != nil {
		return nil, err
	}

	sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseInstallFinish})
	sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseDone})
	return &Result{Changed: true, Manifest: newManifest}, nil
}

// allExistingChangedOrRemoved reports whether every module currently
// installed is in updated∪removed — one of the full-install trigger
// conditions (§4.F step 2).
func allExistingChangedOrRemoved(plan *planner.Plan) bool {
	if plan.Existing == nil || len(plan.Existing.Modules) == 0 {
		return false
	}
	changed := make(map[string]bool, len(plan.Updated)+len(plan.Removed))
	for _, pm := range plan.Updated {
		changed[pm.Module.ModuleName()] = true
	}
	for _, name := range plan.Removed {
		changed[name] = true
	}
	for _, m := range plan.Existing.Modules {
		if !changed[m.Name] {
			return false
		}
	}
	return true
}

func (in *Installer) restore(restoreRoot string) error {
	if ok, _ := fsops.Exists(in.Fs, restoreRoot); !ok {
		return nil
	}
	if err := fsops.RemoveAll(in.Fs, in.DestDir); err != nil {
		return err
	}
	return fsops.MoveTree(in.Fs, restoreRoot, in.DestDir, false)
}

func buildInstallManifest(dist *manifest.DistributionManifest, plan *planner.Plan, full bool, source string, altMap map[string]string) *manifest.InstallManifest {
	modules := make([]manifest.InstalledModule, 0, len(dist.Modules))
	for _, mod := range dist.Modules {
		chosenKey := ""
		if manifest.IsAlternatives(mod) {
			chosenKey = altMap[mod.ModuleName()]
		}
		file, _ := manifest.ResolvedFile(mod, chosenKey)
		hash := ""
		if file != nil {
			hash = file.Hash
		}
		modules = append(modules, manifest.InstalledModule{
			Name:                    mod.ModuleName(),
			DestDir:                 mod.ModuleDestDir(),
			InstalledAlternativeKey: chosenKey,
			Hash:                    hash,
		})
	}

	return &manifest.InstallManifest{
		Version:                          dist.Version,
		Modules:                          modules,
		Base:                             dist.Base,
		FullHash:                         dist.FullHash,
		FullSplitFileCount:               dist.FullSplitFileCount,
		FullCompleteFileSize:             dist.FullCompleteFileSize,
		FullCompleteFileSizeUncompressed: dist.FullCompleteFileSizeUncompressed,
		Source:                           source,
	}
}

func writeInstallManifest(fsys afero.Fs, destDir string, im *manifest.InstallManifest) error {
	data, err := json.MarshalIndent(im, "", "  ")
	if err != nil {
		return ferrors.Wrap(err, "marshal install.json")
	}
	if err := afero.WriteFile(fsys, destDir+"/install.json", data, 0o644); err != nil {
		return ferrors.Wrap(err, "write install.json")
	}
	return nil
}

// retryModule wraps op with the per-module retry loop (§4.F: "wrapping
// tryDownloadAndInstallModule(module, i, retryCount)").
func retryModule(ctx context.Context, sinkOut sink.EventSink, tok *cancel.Token, moduleName string, maxRetries int, op func(retryCount int) error) error {
	attempt := 0
	err := retry.Do(
		func() error {
			err := op(attempt)
			attempt++
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxRetries+1)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !ferrors.IsUnrecoverableErr(err) && ferrors.CodeOf(err) != ferrors.UserAborted
		}),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			retryCount := int(n) + 1
			wait := time.Duration(math.Pow(2, float64(retryCount))) * time.Second
			sinkOut.RetryScheduled(moduleName, retryCount, int(wait.Seconds()))
			return wait
		}),
		retry.OnRetry(func(n uint, err error) {
			if tok != nil {
				_ = tok.Check()
			}
			sinkOut.RetryStarted(moduleName, int(n)+1)
		}),
	)
	if err == nil {
		return nil
	}
	// An unrecoverable error or cancellation short-circuited the loop: that
	// error's own code already tells the real story. Anything else means
	// the ceiling was reached (§4.F): re-raise as MaxModuleRetries.
	if ferrors.IsUnrecoverableErr(err) || ferrors.CodeOf(err) == ferrors.UserAborted {
		return err
	}
	if ctx.Err() != nil {
		return ferrors.New(ferrors.UserAborted, fmt.Sprintf("module %q: cancelled during retry backoff", moduleName))
	}
	return ferrors.New(ferrors.MaxModuleRetries, fmt.Sprintf("module %q: %v", moduleName, err))
}
