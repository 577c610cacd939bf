package install

import (
	"context"

	"github.com/flybywiresim/fragmenter/decompress"
	"github.com/flybywiresim/fragmenter/fragment"
	"github.com/flybywiresim/fragmenter/fsops"
	"github.com/flybywiresim/fragmenter/manifest"
	"github.com/flybywiresim/fragmenter/planner"
	"github.com/flybywiresim/fragmenter/sink"
)

// apply executes step 5 of the orchestrator (§4.F): either the full-install
// branch or the modular-update branch, against the already-backed-up tree.
func (in *Installer) apply(ctx context.Context, dist *manifest.DistributionManifest, plan *planner.Plan, tempDir, restoreRoot string, full bool) error {
	if full {
		return in.applyFull(ctx, dist, tempDir)
	}
	return in.applyModular(ctx, dist, plan, tempDir, restoreRoot)
}

func (in *Installer) applyFull(ctx context.Context, dist *manifest.DistributionManifest, tempDir string) error {
	sinkOut := in.sinkOut()

	if err := fsops.RemoveAll(in.Fs, in.DestDir); err != nil {
		return err
	}

	extractDir := tempDir + "/extract/full"
	zipPath := tempDir + "/full.zip"
	fullFile := &manifest.DownloadFile{
		Hash:                         dist.FullHash,
		SplitFileCount:               dist.FullSplitFileCount,
		CompleteFileSize:             dist.FullCompleteFileSize,
		CompleteFileSizeUncompressed: dist.FullCompleteFileSizeUncompressed,
	}

	err := retryModule(ctx, sinkOut, in.Token, "full", in.Options.maxModuleRetries(), func(retryCount int) error {
		req := fragment.Request{
			BaseURL:        in.BaseURL,
			DestDir:        tempDir,
			RetryCount:     retryCount,
			FullHash:       dist.FullHash,
			ForceCacheBust: in.Options.ForceCacheBust,
		}
		if err := fragment.DownloadFile(ctx, in.Doer, in.Token, in.Fs, sinkOut, req, fullFile, "full"); err != nil {
			return err
		}
		sinkOut.UnzipStarted("full")
		if err := decompress.Extract(in.Fs, sinkOut, "full", zipPath, extractDir, dist.FullHash); err != nil {
			return err
		}
		sinkOut.UnzipFinished("full")
		return nil
	})
	if err != nil {
		return err
	}

	sinkOut.CopyStarted("full")
	if err := fsops.MoveTree(in.Fs, extractDir, in.DestDir, false); err != nil {
		return err
	}
	sinkOut.CopyFinished("full")
	return nil
}

func (in *Installer) applyModular(ctx context.Context, dist *manifest.DistributionManifest, plan *planner.Plan, tempDir, restoreRoot string) error {
	sinkOut := in.sinkOut()

	if err := in.applyBase(ctx, dist, plan, tempDir, restoreRoot); err != nil {
		return err
	}

	for _, name := range plan.Removed {
		if err := in.removeInstalledModule(plan, name); err != nil {
			return err
		}
	}
	for _, pm := range plan.Updated {
		if err := in.removeInstalledModule(plan, pm.Module.ModuleName()); err != nil {
			return err
		}
	}

	pending := make(map[string]planner.PlannedModule, len(plan.Updated)+len(plan.Added))
	for _, pm := range plan.Updated {
		pending[pm.Module.ModuleName()] = pm
	}
	for _, pm := range plan.Added {
		pending[pm.Module.ModuleName()] = pm
	}

	index := 0
	for _, mod := range dist.Modules {
		pm, ok := pending[mod.ModuleName()]
		if !ok {
			continue
		}
		if in.Token != nil {
			if err := in.Token.Check(); err != nil {
				return err
			}
		}
		if err := in.installModule(ctx, pm, dist.FullHash, tempDir, index); err != nil {
			return err
		}
		index++
	}

	for _, name := range plan.Unchanged {
		mod := dist.ModuleByName(name)
		if mod == nil {
			continue
		}
		backedUp := restoreRoot + "/" + mod.ModuleDestDir()
		if ok, _ := fsops.Exists(in.Fs, backedUp); ok {
			if err := fsops.MoveTree(in.Fs, backedUp, in.DestDir+"/"+mod.ModuleDestDir(), true); err != nil {
				return err
			}
		}
	}

	return nil
}

// applyBase handles the base-fragment branch of step 5: either fetching
// and applying the new base, or restoring the old one verbatim.
func (in *Installer) applyBase(ctx context.Context, dist *manifest.DistributionManifest, plan *planner.Plan, tempDir, restoreRoot string) error {
	sinkOut := in.sinkOut()

	if !plan.BaseChanged {
		for _, relPath := range dist.Base.Files {
			src := restoreRoot + "/" + relPath
			if ok, _ := fsops.Exists(in.Fs, src); ok {
				if err := fsops.MoveFile(in.Fs, src, in.DestDir+"/"+relPath); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if plan.Existing != nil {
		for _, relPath := range plan.Existing.Base.Files {
			_ = fsops.RemoveAll(in.Fs, in.DestDir+"/"+relPath)
		}
	}

	extractDir := tempDir + "/extract/base"
	zipPath := tempDir + "/base.zip"
	baseFile := &manifest.DownloadFile{
		Hash:                         dist.Base.Hash,
		SplitFileCount:               dist.Base.SplitFileCount,
		CompleteFileSize:             dist.Base.CompleteFileSize,
		CompleteFileSizeUncompressed: dist.Base.CompleteFileSizeUncompressed,
	}

	err := retryModule(ctx, sinkOut, in.Token, "base", in.Options.maxModuleRetries(), func(retryCount int) error {
		req := fragment.Request{
			BaseURL:        in.BaseURL,
			DestDir:        tempDir,
			RetryCount:     retryCount,
			FullHash:       dist.FullHash,
			ForceCacheBust: in.Options.ForceCacheBust,
		}
		if err := fragment.DownloadFile(ctx, in.Doer, in.Token, in.Fs, sinkOut, req, baseFile, "base"); err != nil {
			return err
		}
		sinkOut.UnzipStarted("base")
		if err := decompress.Extract(in.Fs, sinkOut, "base", zipPath, extractDir, dist.Base.Hash); err != nil {
			return err
		}
		sinkOut.UnzipFinished("base")
		return nil
	})
	if err != nil {
		return err
	}

	sinkOut.CopyStarted("base")
	for _, relPath := range dist.Base.Files {
		src := extractDir + "/" + relPath
		if ok, _ := fsops.Exists(in.Fs, src); ok {
			if err := fsops.MoveFile(in.Fs, src, in.DestDir+"/"+relPath); err != nil {
				return err
			}
		}
	}
	sinkOut.CopyFinished("base")
	return nil
}

func (in *Installer) removeInstalledModule(plan *planner.Plan, name string) error {
	if plan.Existing == nil {
		return nil
	}
	installed := plan.Existing.ModuleByName(name)
	if installed == nil {
		return nil
	}
	return fsops.RemoveAll(in.Fs, in.DestDir+"/"+installed.DestDir)
}

func (in *Installer) installModule(ctx context.Context, pm planner.PlannedModule, fullHash, tempDir string, moduleIndex int) error {
	sinkOut := in.sinkOut()
	name := pm.Module.ModuleName()

	return retryModule(ctx, sinkOut, in.Token, name, in.Options.maxModuleRetries(), func(retryCount int) error {
		stagingDir := tempDir + "/extract/" + name
		zipPath := tempDir + "/" + name + ".zip"

		req := fragment.Request{
			BaseURL:        in.BaseURL,
			Module:         pm.Module,
			ChosenKey:      pm.ChosenKey,
			DestDir:        tempDir,
			RetryCount:     retryCount,
			FullHash:       fullHash,
			ForceCacheBust: in.Options.ForceCacheBust,
		}
		sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseModuleDownload, Module: name, ModuleIndex: moduleIndex})
		if err := fragment.Download(ctx, in.Doer, in.Token, in.Fs, sinkOut, req); err != nil {
			return err
		}

		sinkOut.Phase(sink.PhaseEvent{Phase: sink.PhaseModuleDecompress, Module: name, ModuleIndex: moduleIndex})
		sinkOut.UnzipStarted(name)
		if err := decompress.Extract(in.Fs, sinkOut, name, zipPath, stagingDir, pm.ResolvedFile.Hash); err != nil {
			return err
		}
		sinkOut.UnzipFinished(name)

		sinkOut.CopyStarted(name)
		files, err := fsops.ListFilesRecursive(in.Fs, stagingDir)
		if err != nil {
			return err
		}
		destModuleDir := in.DestDir + "/" + pm.Module.ModuleDestDir()
		for i, rel := range files {
			if err := fsops.MoveFile(in.Fs, stagingDir+"/"+rel, destModuleDir+"/"+rel); err != nil {
				return err
			}
			sinkOut.CopyProgress(name, sink.CopyProgress{Moved: i + 1, Total: len(files)})
		}
		sinkOut.CopyFinished(name)
		return nil
	})
}
