package manifest

import (
	"fmt"
	"strings"

	"github.com/flybywiresim/fragmenter/ferrors"
)

// ValidateDistribution checks the §3 invariants that a distribution
// manifest must satisfy before planning can proceed: unique, non-reserved
// module names, a resolvable alternative key for every alternatives module
// (via alternativeKeys), and no module sourceDir nesting.
func ValidateDistribution(d *DistributionManifest, alternativeKeys map[string]string) error {
	seen := make(map[string]bool, len(d.Modules))

	for _, mod := range d.Modules {
		name := mod.ModuleName()
		if name == ReservedNameBase || name == ReservedNameFull {
			return ferrors.New(ferrors.InvalidDistributionManifest,
				fmt.Sprintf("module name %q is reserved", name))
		}
		if seen[name] {
			return ferrors.New(ferrors.InvalidDistributionManifest,
				fmt.Sprintf("duplicate module name %q", name))
		}
		seen[name] = true

		if alts, ok := mod.(*AlternativesModule); ok {
			key, chosen := alternativeKeys[name]
			if !chosen {
				return ferrors.New(ferrors.InvalidOptions,
					fmt.Sprintf("module %q requires an alternative key", name))
			}
			found := false
			for _, alt := range alts.Alternatives {
				if alt.Key == key {
					found = true
					break
				}
			}
			if !found {
				return ferrors.New(ferrors.InvalidOptions,
					fmt.Sprintf("module %q has no alternative %q", name, key))
			}
		}
	}

	return validateNoNesting(d.Modules)
}

// validateNoNesting enforces that no module's sourceDir is a prefix of
// another module's sourceDir (§3). For an AlternativesModule, the common
// ancestor of its alternatives' sourceDirs stands in for the module's
// sourceDir in this comparison.
func validateNoNesting(modules []Module) error {
	dirs := make(map[string]string, len(modules))
	for _, mod := range modules {
		dir := sourceDirOf(mod)
		if dir == "" {
			continue
		}
		dirs[mod.ModuleName()] = normalizeDir(dir)
	}

	for nameA, dirA := range dirs {
		for nameB, dirB := range dirs {
			if nameA == nameB {
				continue
			}
			if isPrefixDir(dirA, dirB) {
				return ferrors.New(ferrors.InvalidDistributionManifest,
					fmt.Sprintf("module %q sourceDir nests inside module %q sourceDir", nameB, nameA))
			}
		}
	}
	return nil
}

func sourceDirOf(m Module) string {
	switch mod := m.(type) {
	case *SimpleModule:
		return mod.SourceDir
	case *AlternativesModule:
		return commonAncestor(mod.Alternatives)
	default:
		return ""
	}
}

func commonAncestor(alts []Alternative) string {
	if len(alts) == 0 {
		return ""
	}
	segs := strings.Split(normalizeDir(alts[0].SourceDir), "/")
	for _, alt := range alts[1:] {
		other := strings.Split(normalizeDir(alt.SourceDir), "/")
		segs = commonPrefix(segs, other)
	}
	return strings.Join(segs, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

func normalizeDir(dir string) string {
	return strings.Trim(strings.ReplaceAll(dir, "\\", "/"), "/")
}

func isPrefixDir(prefix, dir string) bool {
	if prefix == "" || dir == "" || prefix == dir {
		return false
	}
	return strings.HasPrefix(dir+"/", prefix+"/")
}
