// Package manifest defines the fragmenter wire data model: the
// distribution manifest a server publishes, the install manifest a client
// persists, and the fragment/base/module shapes both are built from (§3).
package manifest

import (
	"encoding/json"
	"fmt"
)

// Reserved module names; no distributed or installed module may use them (§3).
const (
	ReservedNameBase = "base"
	ReservedNameFull = "full"
)

// Compression identifies a fragment's compression scheme. Only "zip" exists today.
type Compression string

const CompressionZip Compression = "zip"

// Base describes the fragment containing every file not carved into a module.
type Base struct {
	Hash                         string   `json:"hash"`
	Files                        []string `json:"files"`
	SplitFileCount               uint32   `json:"splitFileCount"`
	CompleteFileSize             uint64   `json:"completeFileSize"`
	CompleteFileSizeUncompressed uint64   `json:"completeFileSizeUncompressed"`
}

// DownloadFile is a DistributionModuleFile: the server-side description of
// one fetchable fragment file belonging to a module (or one of its alternatives).
type DownloadFile struct {
	Key                          string      `json:"key,omitempty"`
	Path                         string      `json:"path"`
	Hash                         string      `json:"hash"`
	Compression                  Compression `json:"compression"`
	SplitFileCount               uint32      `json:"splitFileCount"`
	CompleteFileSize             uint64      `json:"completeFileSize"`
	CompleteFileSizeUncompressed uint64      `json:"completeFileSizeUncompressed"`
}

// Alternative is one mutually-exclusive variant of an AlternativesModule.
type Alternative struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	// SourceDir is populated on the build side only.
	SourceDir string `json:"sourceDir,omitempty"`
	// Download is populated once the manifest has been distributed.
	Download *DownloadFile `json:"download,omitempty"`
}

// Module is the tagged-union (kind="simple" | kind="alternatives") described
// in §3, modeled as a sum type: an interface with two implementations rather
// than a single struct inspected by a kind string at every use site.
type Module interface {
	// ModuleName is the module's unique, case-sensitive name.
	ModuleName() string
	// ModuleDestDir is the destination directory (relative to the install root)
	// the module's contents are extracted into.
	ModuleDestDir() string
	isModule()
}

// SimpleModule is a module with exactly one variant.
type SimpleModule struct {
	Name    string `json:"name"`
	DestDir string `json:"destDir"`
	// SourceDir is populated on the build side only.
	SourceDir string `json:"sourceDir,omitempty"`
	// Download is populated once the manifest has been distributed.
	Download *DownloadFile `json:"download,omitempty"`
}

func (m *SimpleModule) ModuleName() string    { return m.Name }
func (m *SimpleModule) ModuleDestDir() string { return m.DestDir }
func (m *SimpleModule) isModule()             {}

// MarshalJSON emits the wire shape with its "kind" discriminant.
func (m *SimpleModule) MarshalJSON() ([]byte, error) {
	type wire SimpleModule
	return json.Marshal(struct {
		Kind string `json:"kind"`
		*wire
	}{Kind: "simple", wire: (*wire)(m)})
}

// AlternativesModule is a module offering N mutually-exclusive variants.
type AlternativesModule struct {
	Name         string        `json:"name"`
	DestDir      string        `json:"destDir"`
	Alternatives []Alternative `json:"alternatives"`
}

func (m *AlternativesModule) ModuleName() string    { return m.Name }
func (m *AlternativesModule) ModuleDestDir() string { return m.DestDir }
func (m *AlternativesModule) isModule()             {}

// MarshalJSON emits the wire shape with its "kind" discriminant.
func (m *AlternativesModule) MarshalJSON() ([]byte, error) {
	type wire AlternativesModule
	return json.Marshal(struct {
		Kind string `json:"kind"`
		*wire
	}{Kind: "alternatives", wire: (*wire)(m)})
}

// ResolvedFile returns the DownloadFile a caller should fetch for this
// module: the single download for a SimpleModule, or the alternative whose
// key matches chosenKey for an AlternativesModule. The bool result is false
// when an alternatives module has no alternative for chosenKey.
func ResolvedFile(m Module, chosenKey string) (*DownloadFile, bool) {
	switch mod := m.(type) {
	case *SimpleModule:
		return mod.Download, mod.Download != nil
	case *AlternativesModule:
		for _, alt := range mod.Alternatives {
			if alt.Key == chosenKey {
				return alt.Download, alt.Download != nil
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// IsAlternatives reports whether m requires a chosen alternative key.
func IsAlternatives(m Module) bool {
	_, ok := m.(*AlternativesModule)
	return ok
}

// DistributionManifest is the server-published description of the package's
// current state (modules.json).
type DistributionManifest struct {
	Version                          *string  `json:"version,omitempty"`
	Modules                          []Module `json:"modules"`
	Base                              Base     `json:"base"`
	FullHash                          string   `json:"fullHash"`
	FullSplitFileCount                uint32   `json:"fullSplitFileCount"`
	FullCompleteFileSize              uint64   `json:"fullCompleteFileSize"`
	FullCompleteFileSizeUncompressed  uint64   `json:"fullCompleteFileSizeUncompressed"`
}

// ModuleByName returns the distributed module named name, or nil.
func (d *DistributionManifest) ModuleByName(name string) Module {
	for _, mod := range d.Modules {
		if mod.ModuleName() == name {
			return mod
		}
	}
	return nil
}

// UnmarshalJSON decodes modules.json, resolving each module's "kind"
// discriminant into the matching concrete type exactly once, here, rather
// than at every call site.
func (d *DistributionManifest) UnmarshalJSON(data []byte) error {
	type wire struct {
		Version                          *string           `json:"version,omitempty"`
		Modules                          []json.RawMessage `json:"modules"`
		Base                              Base              `json:"base"`
		FullHash                          string            `json:"fullHash"`
		FullSplitFileCount                uint32            `json:"fullSplitFileCount"`
		FullCompleteFileSize              uint64            `json:"fullCompleteFileSize"`
		FullCompleteFileSizeUncompressed  uint64            `json:"fullCompleteFileSizeUncompressed"`
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	modules := make([]Module, 0, len(w.Modules))
	for _, raw := range w.Modules {
		mod, err := decodeModule(raw)
		if err != nil {
			return err
		}
		modules = append(modules, mod)
	}

	d.Version = w.Version
	d.Modules = modules
	d.Base = w.Base
	d.FullHash = w.FullHash
	d.FullSplitFileCount = w.FullSplitFileCount
	d.FullCompleteFileSize = w.FullCompleteFileSize
	d.FullCompleteFileSizeUncompressed = w.FullCompleteFileSizeUncompressed
	return nil
}

func decodeModule(raw json.RawMessage) (Module, error) {
	var discriminant struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &discriminant); err != nil {
		return nil, fmt.Errorf("decode module discriminant: %w", err)
	}

	switch discriminant.Kind {
	case "simple":
		var m SimpleModule
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode simple module: %w", err)
		}
		return &m, nil
	case "alternatives":
		var m AlternativesModule
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode alternatives module: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown module kind %q", discriminant.Kind)
	}
}

// InstalledModule is a client-side module entry: a distributed module
// annotated with what was actually installed.
type InstalledModule struct {
	Name string `json:"name"`
	// DestDir is the destination directory the module was extracted into.
	DestDir string `json:"destDir"`
	// InstalledAlternativeKey is set only for modules of kind "alternatives".
	InstalledAlternativeKey string `json:"installedAlternativeKey,omitempty"`
	// Hash is the verified hash of the installed fragment.
	Hash string `json:"hash"`
}

// InstallManifest is the client-side record of what is currently installed
// (install.json): a DistributionManifest plus the install source and the
// as-installed module annotations.
type InstallManifest struct {
	Version                          *string            `json:"version,omitempty"`
	Modules                          []InstalledModule  `json:"modules"`
	Base                              Base               `json:"base"`
	FullHash                          string             `json:"fullHash"`
	FullSplitFileCount                uint32             `json:"fullSplitFileCount"`
	FullCompleteFileSize              uint64             `json:"fullCompleteFileSize"`
	FullCompleteFileSizeUncompressed  uint64             `json:"fullCompleteFileSizeUncompressed"`
	Source                            string             `json:"source"`
}

// ModuleByName returns the installed module entry named name, or nil.
func (i *InstallManifest) ModuleByName(name string) *InstalledModule {
	for idx := range i.Modules {
		if i.Modules[idx].Name == name {
			return &i.Modules[idx]
		}
	}
	return nil
}
