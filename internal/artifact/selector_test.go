package artifact

import (
	"testing"

	"github.com/CloudNativeWorks/elchi-runner/internal/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "latest", req: Request{Version: "latest", Arch: "x64"}},
		{name: "three part version", req: Request{Version: "2.320.1", Arch: "x64"}},
		{name: "single number", req: Request{Version: "2", Arch: "arm64"}},
		{name: "long version", req: Request{Version: "1.2.3.4.5", Arch: "arm64"}},
		{name: "missing version", req: Request{Arch: "x64"}, wantErr: ErrMissingArgument},
		{name: "missing arch", req: Request{Version: "2.320.1"}, wantErr: ErrMissingArgument},
		{name: "missing both", req: Request{}, wantErr: ErrMissingArgument},
		{name: "missing arch wins over bad version", req: Request{Version: "nope"}, wantErr: ErrMissingArgument},
		{name: "v prefix", req: Request{Version: "v2.320.1", Arch: "x64"}, wantErr: ErrInvalidInput},
		{name: "trailing dot", req: Request{Version: "2.320.", Arch: "x64"}, wantErr: ErrInvalidInput},
		{name: "prerelease", req: Request{Version: "2.320.1-rc1", Arch: "x64"}, wantErr: ErrInvalidInput},
		{name: "uppercase latest", req: Request{Version: "LATEST", Arch: "x64"}, wantErr: ErrInvalidInput},
		{name: "unknown arch", req: Request{Version: "2.320.1", Arch: "amd64"}, wantErr: ErrInvalidInput},
		{name: "arch with spaces", req: Request{Version: "latest", Arch: " x64"}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(nil)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequestValidateCustomArches(t *testing.T) {
	arches := []string{"x64", "arm64", "arm"}

	assert.NoError(t, Request{Version: "latest", Arch: "arm"}.Validate(arches))
	assert.ErrorIs(t, Request{Version: "latest", Arch: "arm"}.Validate(nil), ErrInvalidInput)
}

func TestAssetName(t *testing.T) {
	got := AssetName(Platform{OS: "linux", Arch: "x64"}, "2.320.1")
	assert.Equal(t, "actions-runner-linux-x64-2.320.1.tar.gz", got)
}

func TestResolvedVersion(t *testing.T) {
	m := &release.Manifest{TagName: "v2.321.0"}

	v, err := ResolvedVersion("2.320.1", m)
	require.NoError(t, err)
	assert.Equal(t, "2.320.1", v)

	v, err = ResolvedVersion(LatestSelector, m)
	require.NoError(t, err)
	assert.Equal(t, "2.321.0", v)

	_, err = ResolvedVersion(LatestSelector, &release.Manifest{TagName: "nightly"})
	assert.ErrorIs(t, err, ErrManifestParseFailed)
}

func TestSelectAsset(t *testing.T) {
	m := &release.Manifest{
		TagName: "v2.320.1",
		Assets: []release.Asset{
			{Name: "actions-runner-linux-arm64-2.320.1.tar.gz", URL: "https://example.com/arm64"},
			{Name: "actions-runner-linux-x64-2.320.1.tar.gz", URL: "https://example.com/x64"},
		},
	}

	asset, err := SelectAsset(m, "actions-runner-linux-x64-2.320.1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x64", asset.URL)

	_, err = SelectAsset(m, "actions-runner-linux-x64-2.320.0.tar.gz")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	_, err = SelectAsset(m, "actions-runner-linux-x64-2.320.1.tar")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(Request{}.Validate(nil)))
	assert.Equal(t, 9, ExitCode(ErrDigestMismatch))
	assert.Equal(t, 1, ExitCode(assert.AnError))

	seen := map[int]bool{}
	for _, ec := range exitCodes {
		assert.NotZero(t, ec.code)
		assert.False(t, seen[ec.code], "duplicate exit code %d", ec.code)
		seen[ec.code] = true
	}
}
