// Package planner implements the Update Planner (§4.E): diffing a freshly
// fetched DistributionManifest against the locally installed
// InstallManifest (if any) to produce an UpdatePlan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
	"github.com/flybywiresim/fragmenter/manifest"
	"github.com/flybywiresim/fragmenter/transport"
)

// Options are the planner-relevant subset of the installer's configuration
// (§6 options table).
type Options struct {
	ForceManifestCacheBust bool
	ModuleAlternativesMap  map[string]string
	ForceFullInstallRatio  float64 // 0 means unset
}

// PlannedModule pairs a distributed module with the alternative key chosen
// for it (empty for a SimpleModule) and its resolved downloadFile.
type PlannedModule struct {
	Module       manifest.Module
	ChosenKey    string
	ResolvedFile *manifest.DownloadFile
}

// Plan is the Update Planner's output.
type Plan struct {
	Distribution *manifest.DistributionManifest
	Existing     *manifest.InstallManifest

	IsFreshInstall bool
	BaseChanged    bool
	NeedsUpdate    bool

	Added     []PlannedModule
	Removed   []string
	Updated   []PlannedModule
	Unchanged []string

	DownloadSize        uint64
	RequiredDiskSpace   uint64
	WillFullyReDownload bool
}

// FetchManifest retrieves and decodes <baseURL>/modules.json.
func FetchManifest(ctx context.Context, doer transport.Doer, baseURL string, cacheBust bool) (*manifest.DistributionManifest, error) {
	manifestURL := baseURL + "/modules.json"
	if cacheBust {
		u, err := url.Parse(manifestURL)
		if err != nil {
			return nil, ferrors.Wrap(err, "parse manifest URL "+manifestURL)
		}
		q := u.Query()
		q.Set("cache", strconv.FormatInt(rand.Int63(), 36))
		u.RawQuery = q.Encode()
		manifestURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, ferrors.Wrap(err, "build request for "+manifestURL)
	}
	resp, err := doer.Do(req)
	if err != nil {
		return nil, ferrors.Wrap(err, "GET "+manifestURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, ferrors.New(ferrors.NetworkError, fmt.Sprintf("GET %s: HTTP %d", manifestURL, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.Wrap(err, "read manifest body")
	}

	var dist manifest.DistributionManifest
	if err := json.Unmarshal(body, &dist); err != nil {
		return nil, ferrors.Wrap(err, "decode modules.json")
	}
	return &dist, nil
}

// Plan produces an UpdatePlan from a freshly fetched distribution manifest
// and the install manifest found (if any) at <destDir>/install.json.
func Plan(fsys afero.Fs, dist *manifest.DistributionManifest, destDir string, opts Options) (*Plan, error) {
	if err := manifest.ValidateDistribution(dist, opts.ModuleAlternativesMap); err != nil {
		return nil, err
	}

	installPath := destDir + "/install.json"
	exists, err := afero.Exists(fsys, installPath)
	if err != nil {
		return nil, ferrors.Wrap(err, "stat "+installPath)
	}

	if !exists {
		return freshInstallPlan(dist, opts)
	}

	raw, err := afero.ReadFile(fsys, installPath)
	if err != nil {
		return nil, ferrors.Wrap(err, "read "+installPath)
	}
	var existing manifest.InstallManifest
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, ferrors.New(ferrors.InvalidDistributionManifest, "malformed install.json: "+err.Error())
	}

	return diffPlan(dist, &existing, opts)
}

func freshInstallPlan(dist *manifest.DistributionManifest, opts Options) (*Plan, error) {
	added := make([]PlannedModule, 0, len(dist.Modules))
	for _, mod := range dist.Modules {
		pm, err := resolvePlannedModule(mod, opts)
		if err != nil {
			return nil, err
		}
		added = append(added, pm)
	}

	return &Plan{
		Distribution:        dist,
		IsFreshInstall:      true,
		BaseChanged:         true,
		NeedsUpdate:         true,
		Added:               added,
		DownloadSize:        dist.FullCompleteFileSize,
		RequiredDiskSpace:   dist.FullCompleteFileSizeUncompressed,
		WillFullyReDownload: true,
	}, nil
}

func resolvePlannedModule(mod manifest.Module, opts Options) (PlannedModule, error) {
	chosenKey := ""
	if manifest.IsAlternatives(mod) {
		chosenKey = opts.ModuleAlternativesMap[mod.ModuleName()]
	}
	file, ok := manifest.ResolvedFile(mod, chosenKey)
	if !ok || file == nil {
		return PlannedModule{}, ferrors.New(ferrors.InvalidOptions,
			fmt.Sprintf("no alternative key supplied (or key unknown) for module %q", mod.ModuleName()))
	}
	return PlannedModule{Module: mod, ChosenKey: chosenKey, ResolvedFile: file}, nil
}

func diffPlan(dist *manifest.DistributionManifest, existing *manifest.InstallManifest, opts Options) (*Plan, error) {
	plan := &Plan{
		Distribution: dist,
		Existing:     existing,
		BaseChanged:  existing.Base.Hash != dist.Base.Hash,
	}

	existingByName := make(map[string]*manifest.InstalledModule, len(existing.Modules))
	for i := range existing.Modules {
		existingByName[existing.Modules[i].Name] = &existing.Modules[i]
	}
	distByName := make(map[string]manifest.Module, len(dist.Modules))
	for _, mod := range dist.Modules {
		distByName[mod.ModuleName()] = mod
	}

	for _, mod := range dist.Modules {
		name := mod.ModuleName()
		installed, wasInstalled := existingByName[name]
		if !wasInstalled {
			pm, err := resolvePlannedModule(mod, opts)
			if err != nil {
				return nil, err
			}
			plan.Added = append(plan.Added, pm)
			continue
		}

		pm, err := resolvePlannedModule(mod, opts)
		if err != nil {
			return nil, err
		}

		keyChanged := pm.ChosenKey != installed.InstalledAlternativeKey
		hashChanged := pm.ResolvedFile.Hash != installed.Hash
		if keyChanged || hashChanged {
			plan.Updated = append(plan.Updated, pm)
		} else {
			plan.Unchanged = append(plan.Unchanged, name)
		}
	}

	for _, installed := range existing.Modules {
		if _, stillDistributed := distByName[installed.Name]; !stillDistributed {
			plan.Removed = append(plan.Removed, installed.Name)
		}
	}

	plan.NeedsUpdate = plan.BaseChanged || len(plan.Added) > 0 || len(plan.Removed) > 0 || len(plan.Updated) > 0

	var downloadSize, diskSpace uint64
	for _, pm := range plan.Added {
		downloadSize += pm.ResolvedFile.CompleteFileSize
		diskSpace += pm.ResolvedFile.CompleteFileSizeUncompressed
	}
	for _, pm := range plan.Updated {
		downloadSize += pm.ResolvedFile.CompleteFileSize
		diskSpace += pm.ResolvedFile.CompleteFileSizeUncompressed
	}
	plan.DownloadSize = downloadSize
	plan.RequiredDiskSpace = diskSpace

	if opts.ForceFullInstallRatio > 0 {
		changedCount := len(plan.Added) + len(plan.Updated)
		denominator := len(existing.Modules)
		if denominator < 1 {
			denominator = 1
		}
		if float64(changedCount)/float64(denominator) > opts.ForceFullInstallRatio {
			plan.WillFullyReDownload = true
			plan.DownloadSize = dist.FullCompleteFileSize
			plan.RequiredDiskSpace = dist.FullCompleteFileSizeUncompressed
		}
	}

	return plan, nil
}
