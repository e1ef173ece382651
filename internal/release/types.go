package release

// Manifest describes one published release as returned by the releases API
type Manifest struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name,omitempty"`
	Body    string  `json:"body"`
	Draft   bool    `json:"draft,omitempty"`
	Pre     bool    `json:"prerelease,omitempty"`
	Assets  []Asset `json:"assets"`
}

// Asset is one downloadable file attached to a release
type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// FindAsset returns the asset with exactly the given name
func (m *Manifest) FindAsset(name string) (*Asset, bool) {
	for i := range m.Assets {
		if m.Assets[i].Name == name {
			return &m.Assets[i], true
		}
	}
	return nil, false
}

// Constants
const (
	DefaultAPIURL   = "https://api.github.com"
	DefaultOwner    = "actions"
	DefaultRepo     = "runner"
	LatestSelector  = "latest"
	DefaultPageSize = 30
)
