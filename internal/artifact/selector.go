package artifact

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/CloudNativeWorks/elchi-runner/internal/release"
)

const (
	// LatestSelector requests the most recent published release
	LatestSelector = release.LatestSelector
	// DefaultOS is the only operating system runner archives are fetched for
	DefaultOS = "linux"

	assetPrefix    = "actions-runner"
	assetExtension = ".tar.gz"
)

// DefaultArches is the architecture enumeration used when none is configured
var DefaultArches = []string{"x64", "arm64"}

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// Request is one install invocation: a version selector and an architecture
type Request struct {
	Version string `json:"version" yaml:"version"`
	Arch    string `json:"arch" yaml:"arch"`
}

// Platform is the target operating system and architecture pair
type Platform struct {
	OS   string `json:"os" yaml:"os"`
	Arch string `json:"arch" yaml:"arch"`
}

// IsNumericVersion reports whether v is a dot-separated numeric version
func IsNumericVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// Validate checks presence of both parameters first, then their format.
// arches is the accepted architecture enumeration; empty means DefaultArches.
func (r Request) Validate(arches []string) error {
	var missing []string
	if r.Version == "" {
		missing = append(missing, "version")
	}
	if r.Arch == "" {
		missing = append(missing, "arch")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(missing, ", "))
	}

	if r.Version != LatestSelector && !IsNumericVersion(r.Version) {
		return fmt.Errorf("%w: version %q must be %q or a dot-separated number", ErrInvalidInput, r.Version, LatestSelector)
	}

	if len(arches) == 0 {
		arches = DefaultArches
	}
	if !slices.Contains(arches, r.Arch) {
		return fmt.Errorf("%w: arch %q must be one of %s", ErrInvalidInput, r.Arch, strings.Join(arches, ", "))
	}

	return nil
}

// AssetName returns the archive name published for a platform and version
func AssetName(p Platform, version string) string {
	return fmt.Sprintf("%s-%s-%s-%s%s", assetPrefix, p.OS, p.Arch, version, assetExtension)
}

// ResolvedVersion returns the concrete numeric version an install targets.
// Numeric selectors are returned as-is; "latest" takes the manifest tag
// without its "v" prefix.
func ResolvedVersion(selector string, m *release.Manifest) (string, error) {
	if selector != LatestSelector {
		return selector, nil
	}

	v := strings.TrimPrefix(m.TagName, "v")
	if !IsNumericVersion(v) {
		return "", fmt.Errorf("%w: release tag %q is not a version", ErrManifestParseFailed, m.TagName)
	}
	return v, nil
}

// SelectAsset finds the asset named exactly name in the manifest
func SelectAsset(m *release.Manifest, name string) (*release.Asset, error) {
	asset, ok := m.FindAsset(name)
	if !ok {
		return nil, fmt.Errorf("%w: release %s has no asset %s", ErrAssetNotFound, m.TagName, name)
	}
	return asset, nil
}
