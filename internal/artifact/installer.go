package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CloudNativeWorks/elchi-runner/internal/release"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
)

const stagingPattern = ".extract-*"

// Source is where manifests and asset bytes come from. *release.Client
// satisfies it.
type Source interface {
	FetchManifest(ctx context.Context, version string) (*release.Manifest, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Result describes a completed install
type Result struct {
	Version string        `json:"version" yaml:"version"`
	Tag     string        `json:"tag" yaml:"tag"`
	Asset   string        `json:"asset" yaml:"asset"`
	Digest  digest.Digest `json:"digest" yaml:"digest"`
	Bytes   int64         `json:"bytes" yaml:"bytes"`
	WorkDir string        `json:"work_dir" yaml:"work_dir"`
	Files   []string      `json:"files" yaml:"files"`
}

// Installer resolves, downloads, verifies and extracts runner archives
type Installer struct {
	source        Source
	extractor     Extractor
	digests       DigestExtractor
	os            string
	arches        []string
	workDir       string
	checksumAsset string
	logger        *logger.Logger
}

// Option configures an Installer
type Option func(*Installer)

// WithExtractor overrides the archive extractor. By default it is picked
// from the asset's file extension.
func WithExtractor(e Extractor) Option {
	return func(i *Installer) {
		if e != nil {
			i.extractor = e
		}
	}
}

// WithDigestExtractor overrides how expected digests are located
func WithDigestExtractor(d DigestExtractor) Option {
	return func(i *Installer) {
		if d != nil {
			i.digests = d
		}
	}
}

// WithChecksumAsset reads expected digests from the named release asset
// (e.g. SHA256SUMS) instead of the release notes
func WithChecksumAsset(name string) Option {
	return func(i *Installer) {
		i.checksumAsset = name
		if name != "" {
			i.digests = ChecksumFileExtractor{}
		}
	}
}

// WithPlatform sets the operating system tag and accepted architectures
func WithPlatform(os string, arches []string) Option {
	return func(i *Installer) {
		if os != "" {
			i.os = os
		}
		if len(arches) > 0 {
			i.arches = arches
		}
	}
}

// WithWorkDir sets the directory the archive is downloaded to and extracted into
func WithWorkDir(dir string) Option {
	return func(i *Installer) {
		if dir != "" {
			i.workDir = dir
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(i *Installer) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewInstaller creates an Installer reading from source
func NewInstaller(source Source, opts ...Option) *Installer {
	i := &Installer{
		source:  source,
		digests: NotesExtractor{},
		os:      DefaultOS,
		arches:  DefaultArches,
		workDir: ".",
		logger:  logger.NewLogger("installer"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install runs resolve, download, verify and extract in order. Any failure
// ends the install; the archive is only extracted after its digest matched.
func (i *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(i.arches); err != nil {
		return nil, err
	}
	platform := Platform{OS: i.os, Arch: req.Arch}

	log := i.logger.WithFields(logger.Fields{
		"version": req.Version,
		"arch":    req.Arch,
	})
	log.Info("Resolving runner release")

	manifest, err := i.source.FetchManifest(ctx, req.Version)
	if err != nil {
		if errors.Is(err, release.ErrParse) {
			return nil, fmt.Errorf("%w: %w", ErrManifestParseFailed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrManifestFetchFailed, err)
	}

	version, err := ResolvedVersion(req.Version, manifest)
	if err != nil {
		return nil, err
	}

	name := AssetName(platform, version)
	asset, err := SelectAsset(manifest, name)
	if err != nil {
		return nil, err
	}

	document, err := i.digestDocument(ctx, manifest)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(i.workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	archivePath := filepath.Join(i.workDir, asset.Name)

	log.WithField("asset", asset.Name).Info("Downloading runner archive")
	written, err := i.download(ctx, asset.URL, archivePath)
	if err != nil {
		return nil, i.discard(archivePath, err)
	}

	sum, err := i.verify(document, archivePath, asset.Name)
	if err != nil {
		return nil, i.discard(archivePath, err)
	}
	log.WithField("digest", sum.String()).Info("Checksum verification successful")

	extractor := i.extractor
	if extractor == nil {
		if extractor, err = NewExtractor(asset.Name); err != nil {
			return nil, i.discard(archivePath, fmt.Errorf("%w: %w", ErrExtractFailed, err))
		}
	}

	files, err := i.extract(ctx, extractor, archivePath)
	if err != nil {
		return nil, i.discard(archivePath, fmt.Errorf("%w: %w", ErrExtractFailed, err))
	}

	if err := os.Remove(archivePath); err != nil {
		log.WithError(err).Warn("Failed to remove downloaded archive")
	}

	log.WithFields(logger.Fields{
		"resolved": version,
		"files":    len(files),
	}).Info("Runner archive installed")

	return &Result{
		Version: version,
		Tag:     manifest.TagName,
		Asset:   asset.Name,
		Digest:  sum,
		Bytes:   written,
		WorkDir: i.workDir,
		Files:   files,
	}, nil
}

// digestDocument returns the text expected digests are read from: the
// release notes, or the configured checksum asset.
func (i *Installer) digestDocument(ctx context.Context, m *release.Manifest) (string, error) {
	if i.checksumAsset == "" {
		return m.Body, nil
	}

	asset, ok := m.FindAsset(i.checksumAsset)
	if !ok {
		return "", fmt.Errorf("%w: release %s has no checksum asset %s", ErrDigestNotFound, m.TagName, i.checksumAsset)
	}

	var buf bytes.Buffer
	if _, err := i.source.Download(ctx, asset.URL, &buf); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	return buf.String(), nil
}

func (i *Installer) download(ctx context.Context, url, dest string) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create %s: %w", ErrDownloadFailed, dest, err)
	}

	written, err := i.source.Download(ctx, url, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	i.logger.WithField("bytes", written).Debug("File download completed")
	return written, nil
}

func (i *Installer) verify(document, archivePath, assetName string) (digest.Digest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer f.Close()

	sum, err := Verify(i.digests, document, assetName, f)
	if err != nil {
		i.logger.WithFields(logger.Fields{
			"asset":  assetName,
			"actual": sum.String(),
		}).WithError(err).Error("Checksum verification failed")
		return "", err
	}
	return sum, nil
}

// extract unpacks the archive into a staging directory inside the work
// directory and moves the entries into place only once extraction succeeded,
// so a failed extraction leaves the work directory as it was.
func (i *Installer) extract(ctx context.Context, extractor Extractor, archivePath string) ([]string, error) {
	staging, err := os.MkdirTemp(i.workDir, stagingPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := removeTree(staging); err != nil {
			i.logger.WithError(err).Warn("Failed to remove staging directory")
		}
	}()

	files, err := extractor.Extract(ctx, archivePath, staging)
	if err != nil {
		return nil, err
	}
	if err := moveInto(staging, i.workDir); err != nil {
		return nil, fmt.Errorf("failed to move extracted files into place: %w", err)
	}
	return files, nil
}

// moveInto moves every entry of src into dst. Directories present on both
// sides are merged; anything else at the destination is replaced.
func moveInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		if e.IsDir() {
			if fi, err := os.Lstat(to); err == nil && fi.IsDir() {
				info, err := e.Info()
				if err != nil {
					return err
				}
				// entries can only be moved out of a writable directory
				if err := os.Chmod(from, info.Mode().Perm()|0700); err != nil {
					return err
				}
				if err := moveInto(from, to); err != nil {
					return err
				}
				if err := os.Chmod(to, info.Mode().Perm()); err != nil {
					return err
				}
				continue
			}
		}

		if err := os.RemoveAll(to); err != nil {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return nil
}

// removeTree is os.RemoveAll that also copes with read-only directories
// taken from the archive.
func removeTree(dir string) error {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(path, 0700)
		}
		return nil
	})
	return os.RemoveAll(dir)
}

// discard removes a downloaded archive after a failed step and returns cause,
// combined with the removal error if there was one.
func (i *Installer) discard(archivePath string, cause error) error {
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return multierror.Append(cause, fmt.Errorf("failed to remove %s: %w", archivePath, err))
	}
	return cause
}
