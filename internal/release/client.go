package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/CloudNativeWorks/elchi-runner/internal/httpclient"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/Masterminds/semver/v3"
)

// Client fetches release manifests and assets from a GitHub-style releases API
type Client struct {
	http    *httpclient.Client
	baseURL string
	owner   string
	repo    string
	logger  *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API root, e.g. for GitHub Enterprise or tests
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithRepository selects the repository whose releases are read
func WithRepository(owner, repo string) Option {
	return func(c *Client) {
		if owner != "" {
			c.owner = owner
		}
		if repo != "" {
			c.repo = repo
		}
	}
}

// WithHTTP sets the transport stack
func WithHTTP(h *httpclient.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient creates a release client for actions/runner on api.github.com by default
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultAPIURL,
		owner:   DefaultOwner,
		repo:    DefaultRepo,
		logger:  logger.NewLogger("release"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New("release-api")
	}
	return c
}

// ManifestURL returns the lookup URL for a version selector. "latest" maps to
// the most recent published release, anything else to the tag "v<version>".
func (c *Client) ManifestURL(version string) string {
	if version == LatestSelector {
		return fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, c.owner, c.repo)
	}
	return fmt.Sprintf("%s/repos/%s/%s/releases/tags/v%s", c.baseURL, c.owner, c.repo, version)
}

// FetchManifest resolves a version selector to a release manifest
func (c *Client) FetchManifest(ctx context.Context, version string) (*Manifest, error) {
	url := c.ManifestURL(version)
	c.logger.WithField("url", url).Info("Fetching release manifest")

	data, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.WithError(err).Error("Failed to decode release manifest")
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if m.TagName == "" {
		return nil, fmt.Errorf("%w: manifest has no tag_name", ErrParse)
	}

	c.logger.WithFields(logger.Fields{
		"tag":    m.TagName,
		"assets": len(m.Assets),
	}).Debug("Release manifest fetched")
	return &m, nil
}

// ListReleases returns up to limit published releases, newest version first
func (c *Client) ListReleases(ctx context.Context, limit int) ([]Manifest, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", c.baseURL, c.owner, c.repo, limit)
	c.logger.WithField("url", url).Info("Listing releases")

	data, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}

	var all []Manifest
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	releases := all[:0]
	for _, m := range all {
		if m.Draft {
			continue
		}
		releases = append(releases, m)
	}
	SortNewestFirst(releases)

	if len(releases) > limit {
		releases = releases[:limit]
	}
	return releases, nil
}

// SortNewestFirst orders releases by semantic version of their tag, newest
// first. Tags that are not versions keep their relative order at the end.
func SortNewestFirst(releases []Manifest) {
	parsed := make(map[string]*semver.Version, len(releases))
	for _, m := range releases {
		if v, err := semver.NewVersion(m.TagName); err == nil {
			parsed[m.TagName] = v
		}
	}

	sort.SliceStable(releases, func(i, j int) bool {
		vi, iok := parsed[releases[i].TagName]
		vj, jok := parsed[releases[j].TagName]
		switch {
		case iok && jok:
			return vi.GreaterThan(vj)
		case iok:
			return true
		default:
			return false
		}
	})
}

// Download streams the asset at url into w
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	c.logger.WithField("url", url).Debug("Downloading asset")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create request: %v", ErrDownload, err)
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", ErrDownload, ctx.Err())
		}
		c.logger.WithError(err).Error("Failed to download asset")
		return 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	written, err := CopyWithContext(ctx, w, resp.Body)
	if err != nil {
		return written, fmt.Errorf("%w: failed to save asset: %v", ErrDownload, err)
	}

	c.logger.WithField("bytes", written).Debug("Asset download completed")
	return written, nil
}

func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, ctx.Err())
		}
		c.logger.WithError(err).Error("Failed to fetch release data")
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrFetch, err)
	}
	return data, nil
}

// CopyWithContext copies data from src to dst with context cancellation support
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
