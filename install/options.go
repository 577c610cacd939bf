package install

// Options is the installer configuration named in spec §6.
type Options struct {
	// TemporaryDirectory is the absolute staging path; must be unique per
	// run. Left empty, a random one is created under the OS temp dir.
	TemporaryDirectory string
	// MaxModuleRetries caps the per-module retry loop. Default 5.
	MaxModuleRetries int
	// ForceFreshInstall skips the planner's modular decision and always
	// runs a full install.
	ForceFreshInstall bool
	// ForceCacheBust appends a random cache-busting query parameter to
	// every fragment URL.
	ForceCacheBust bool
	// ForceManifestCacheBust does the same, but only for modules.json.
	ForceManifestCacheBust bool
	// DisableFallbackToFull stops the orchestrator from retrying with the
	// full-install strategy when a modular update exhausts
	// MaxModuleRetries; the error propagates instead.
	DisableFallbackToFull bool
	// ModuleAlternativesMap maps module name to the chosen alternative
	// key; required for every alternatives module.
	ModuleAlternativesMap map[string]string
	// ForceFullInstallRatio is in (0,1]; when the changed-module ratio
	// exceeds it, the planner escalates to a full install.
	ForceFullInstallRatio float64
	// MaxDownloadWorkers bounds the goroutine fan-out used to hash multiple
	// already-staged fragments concurrently (§6) — never to parallelize
	// module downloads themselves, which §5 forbids.
	MaxDownloadWorkers int
}

// DefaultMaxModuleRetries is the spec's default retry ceiling (§4.F).
const DefaultMaxModuleRetries = 5

// DefaultMaxDownloadWorkers bounds fragment-hashing fan-out when the caller
// leaves MaxDownloadWorkers unset.
const DefaultMaxDownloadWorkers = 4

func (o Options) maxModuleRetries() int {
	if o.MaxModuleRetries > 0 {
		return o.MaxModuleRetries
	}
	return DefaultMaxModuleRetries
}

// maxDownloadWorkers returns the configured worker bound, or
// DefaultMaxDownloadWorkers if unset.
func (o Options) maxDownloadWorkers() int {
	if o.MaxDownloadWorkers > 0 {
		return o.MaxDownloadWorkers
	}
	return DefaultMaxDownloadWorkers
}
