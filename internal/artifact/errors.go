package artifact

import (
	"errors"
)

// Failure kinds of an install. Every one of them ends the invocation.
var (
	ErrMissingArgument     = errors.New("missing argument")
	ErrInvalidInput        = errors.New("invalid input")
	ErrManifestFetchFailed = errors.New("manifest fetch failed")
	ErrManifestParseFailed = errors.New("manifest parse failed")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrDownloadFailed      = errors.New("download failed")
	ErrDigestNotFound      = errors.New("digest not found")
	ErrDigestMismatch      = errors.New("digest mismatch")
	ErrExtractFailed       = errors.New("extract failed")
)

var exitCodes = []struct {
	err  error
	code int
}{
	{ErrMissingArgument, 2},
	{ErrInvalidInput, 3},
	{ErrManifestFetchFailed, 4},
	{ErrManifestParseFailed, 5},
	{ErrAssetNotFound, 6},
	{ErrDownloadFailed, 7},
	{ErrDigestNotFound, 8},
	{ErrDigestMismatch, 9},
	{ErrExtractFailed, 10},
}

// ExitCode maps an install error to a process exit status. Unclassified
// errors exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for _, ec := range exitCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return 1
}
