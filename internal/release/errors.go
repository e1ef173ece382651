package release

import "errors"

var (
	ErrFetch    = errors.New("release manifest fetch failed")
	ErrParse    = errors.New("release manifest parse failed")
	ErrDownload = errors.New("asset download failed")
)
