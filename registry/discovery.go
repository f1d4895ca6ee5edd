// Discovery locates YAML metadata companions and id-override maps on disk
// and merges them onto modules that were already linked into the binary
// via init-time Register calls. Go cannot dynamically load arbitrary
// source files the way the original Python registry does, so discovery
// here targets configuration, not code — see DESIGN.md's "registry" entry
// for the full rationale.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
)

// ModuleMetadata is the on-disk companion file format for a module: extra
// documentation, tags, and dependency declarations layered on top of
// whatever the module's own Go code already reports.
type ModuleMetadata struct {
	ModuleID      string   `yaml:"module_id"`
	Tags          []string `yaml:"tags,omitempty"`
	Documentation string   `yaml:"documentation,omitempty"`
	Dependencies  []string `yaml:"dependencies,omitempty"`
}

// IDMap overrides module ids discovered under one filesystem root: each
// key is a module_id as read from a metadata file and its value is the id
// used in its place. Ids not listed are kept as read; no prefix is added.
type IDMap map[string]string

// LoadIDMap reads an id-override map from a YAML file of "from: to" pairs.
func LoadIDMap(path string) (IDMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcerrors.NewConfigNotFound(path)
		}
		return nil, apcerrors.NewConfigInvalid(fmt.Sprintf("cannot read id map %s: %v", path, err))
	}
	var m IDMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apcerrors.NewConfigInvalid(fmt.Sprintf("invalid id map %s: %v", path, err))
	}
	return m, nil
}

// DiscoveredMetadata is everything Discover found under one root.
type DiscoveredMetadata struct {
	ByModuleID map[string]ModuleMetadata
	Warnings   []string // duplicate ids, case collisions, skipped entries
}

// Discover walks root looking for "*.module.yaml" metadata files,
// optionally renaming discovered ids through idMap (nil to skip
// renaming). Symlinks are followed once; a root revisited through a
// symlink cycle is skipped rather than looped forever.
func Discover(root string, idMap IDMap) (*DiscoveredMetadata, error) {
	result := &DiscoveredMetadata{ByModuleID: make(map[string]ModuleMetadata)}
	seenRoots := make(map[string]struct{})
	lowerSeen := make(map[string]string) // lowercased id -> original id, for case-collision detection

	err := walkFollowingSymlinks(root, seenRoots, func(path string, d fs.DirEntry) error {
		if d.IsDir() || !strings.HasSuffix(path, ".module.yaml") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: %v", path, err))
			return nil
		}

		var meta ModuleMetadata
		if err := yaml.Unmarshal(data, &meta); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: invalid YAML: %v", path, err))
			return nil
		}
		if meta.ModuleID == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: missing module_id", path))
			return nil
		}

		id := meta.ModuleID
		if idMap != nil {
			if renamed, ok := idMap[id]; ok {
				id = renamed
			}
		}
		meta.ModuleID = id

		if _, exists := result.ByModuleID[id]; exists {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate module id %q at %s", id, path))
			return nil
		}

		lower := strings.ToLower(id)
		if original, exists := lowerSeen[lower]; exists && original != id {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("case-insensitive collision between %q and %q", original, id))
		}
		lowerSeen[lower] = id

		result.ByModuleID[id] = meta
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func walkFollowingSymlinks(root string, seenRoots map[string]struct{}, fn func(path string, d fs.DirEntry) error) error {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apcerrors.NewConfigInvalid(fmt.Sprintf("cannot resolve %s: %v", root, err))
	}
	if _, seen := seenRoots[resolved]; seen {
		return nil
	}
	seenRoots[resolved] = struct{}{}

	return filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			info, statErr := os.Stat(path)
			if statErr == nil && info.IsDir() {
				return walkFollowingSymlinks(path, seenRoots, fn)
			}
		}
		return fn(path, d)
	})
}

// MergeMetadata returns base with extraTags appended (skipping tags base
// already has) and extraDocs used as Documentation when base has none.
// ModuleID and Dependencies are carried over from base unchanged.
func MergeMetadata(base ModuleMetadata, extraTags []string, extraDocs string) ModuleMetadata {
	merged := base
	if extraDocs != "" && merged.Documentation == "" {
		merged.Documentation = extraDocs
	}
	seen := make(map[string]struct{}, len(merged.Tags))
	for _, t := range merged.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range extraTags {
		if _, ok := seen[t]; !ok {
			merged.Tags = append(merged.Tags, t)
			seen[t] = struct{}{}
		}
	}
	return merged
}

// ScanMultiRoot discovers metadata across several roots, each optionally
// paired with its own id map, and merges the results. Ids are not prefixed
// with a per-root namespace. An id found under more than one root is kept
// from whichever root is scanned first (roots are visited in map iteration
// order) and the later occurrence is reported as a warning, not an error.
func ScanMultiRoot(roots map[string]IDMap) (*DiscoveredMetadata, error) {
	combined := &DiscoveredMetadata{ByModuleID: make(map[string]ModuleMetadata)}

	rootPaths := make([]string, 0, len(roots))
	for root := range roots {
		rootPaths = append(rootPaths, root)
	}

	for _, root := range rootPaths {
		found, err := Discover(root, roots[root])
		if err != nil {
			return nil, err
		}
		combined.Warnings = append(combined.Warnings, found.Warnings...)
		for id, meta := range found.ByModuleID {
			if _, exists := combined.ByModuleID[id]; exists {
				combined.Warnings = append(combined.Warnings,
					fmt.Sprintf("module id %q discovered under multiple roots", id))
				continue
			}
			combined.ByModuleID[id] = meta
		}
	}

	return combined, nil
}
