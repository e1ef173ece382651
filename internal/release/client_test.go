package release

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CloudNativeWorks/elchi-runner/internal/httpclient"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(
		WithBaseURL(server.URL+"/"),
		WithHTTP(httpclient.New("test",
			httpclient.WithHTTPClient(server.Client()),
			httpclient.WithRateLimit(0),
			httpclient.WithLogger(logger.NewDiscardLogger("test")),
		)),
	)
}

func TestManifestURL(t *testing.T) {
	c := NewClient(WithBaseURL("https://ghe.example.com/api/v3/"), WithRepository("acme", "runner-fork"))

	assert.Equal(t, "https://ghe.example.com/api/v3/repos/acme/runner-fork/releases/latest", c.ManifestURL("latest"))
	assert.Equal(t, "https://ghe.example.com/api/v3/repos/acme/runner-fork/releases/tags/v2.320.1", c.ManifestURL("2.320.1"))

	def := NewClient()
	assert.Equal(t, "https://api.github.com/repos/actions/runner/releases/latest", def.ManifestURL(LatestSelector))
}

func TestFetchManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/actions/runner/releases/tags/v2.320.1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{
			"tag_name": "v2.320.1",
			"name": "v2.320.1",
			"body": "notes",
			"prerelease": false,
			"assets": [{"name": "actions-runner-linux-x64-2.320.1.tar.gz", "browser_download_url": "https://example.com/a.tar.gz", "size": 42}]
		}`))
	})
	mux.HandleFunc("/repos/actions/runner/releases/tags/v0.0.1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": `))
	})
	mux.HandleFunc("/repos/actions/runner/releases/tags/v0.0.2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "untagged"}`))
	})

	c := newTestClient(t, mux)

	m, err := c.FetchManifest(context.Background(), "2.320.1")
	require.NoError(t, err)
	assert.Equal(t, "v2.320.1", m.TagName)
	assert.Equal(t, "notes", m.Body)
	require.Len(t, m.Assets, 1)

	asset, ok := m.FindAsset("actions-runner-linux-x64-2.320.1.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a.tar.gz", asset.URL)
	assert.Equal(t, int64(42), asset.Size)

	_, ok = m.FindAsset("actions-runner-linux-arm64-2.320.1.tar.gz")
	assert.False(t, ok)

	_, err = c.FetchManifest(context.Background(), "9.9.9")
	assert.ErrorIs(t, err, ErrFetch)

	_, err = c.FetchManifest(context.Background(), "0.0.1")
	assert.ErrorIs(t, err, ErrParse)

	_, err = c.FetchManifest(context.Background(), "0.0.2")
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchManifestCancelled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": "v1.0.0"}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchManifest(ctx, "latest")
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListReleases(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/actions/runner/releases", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`[
			{"tag_name": "v2.319.0"},
			{"tag_name": "v2.321.0", "draft": true},
			{"tag_name": "v2.320.1"},
			{"tag_name": "v2.320.0", "prerelease": true}
		]`))
	}))

	releases, err := c.ListReleases(context.Background(), 3)
	require.NoError(t, err)

	var tags []string
	for _, m := range releases {
		tags = append(tags, m.TagName)
	}
	assert.Equal(t, []string{"v2.320.1", "v2.320.0", "v2.319.0"}, tags)
	assert.True(t, releases[1].Pre)
}

func TestSortNewestFirst(t *testing.T) {
	releases := []Manifest{
		{TagName: "nightly"},
		{TagName: "v2.9.0"},
		{TagName: "v2.10.0"},
		{TagName: "edge"},
		{TagName: "v2.10.0-rc.1"},
	}
	SortNewestFirst(releases)

	var tags []string
	for _, m := range releases {
		tags = append(tags, m.TagName)
	}
	assert.Equal(t, []string{"v2.10.0", "v2.10.0-rc.1", "v2.9.0", "nightly", "edge"}, tags)
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("runner"), 20000)
	mux := http.NewServeMux()
	mux.HandleFunc("/asset", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
		_, _ = w.Write(payload)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	server := httptest.NewServer(mux)
	defer server.Close()
	c := NewClient(WithHTTP(httpclient.New("test",
		httpclient.WithHTTPClient(server.Client()),
		httpclient.WithRateLimit(0),
		httpclient.WithLogger(logger.NewDiscardLogger("test")),
	)))

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), server.URL+"/asset", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.Bytes())

	buf.Reset()
	_, err = c.Download(context.Background(), server.URL+"/gone", &buf)
	assert.ErrorIs(t, err, ErrDownload)
	assert.Zero(t, buf.Len())
}

func TestCopyWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	n, err := CopyWithContext(ctx, &buf, bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}
