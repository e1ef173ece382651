package artifact

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
)

// Extractor unpacks an archive into targetDir and returns the paths it
// wrote, relative to targetDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, targetDir string) ([]string, error)
}

// TarGzExtractor extracts gzip compressed tar archives
type TarGzExtractor struct{}

var extractors = map[string]Extractor{
	".tar.gz": TarGzExtractor{},
	".tgz":    TarGzExtractor{},
}

// NewExtractor returns the extractor matching the archive file name
func NewExtractor(source string) (Extractor, error) {
	for suffix, extractor := range extractors {
		if strings.HasSuffix(source, suffix) {
			return extractor, nil
		}
	}
	return nil, fmt.Errorf("no extractor implemented for %s", source)
}

// Extract implements Extractor. File and directory modes are taken from the
// archive; no entry may resolve outside targetDir.
func (TarGzExtractor) Extract(ctx context.Context, archivePath, targetDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	uncompressed, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer uncompressed.Close()

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, err
	}

	tarReader := tar.NewReader(uncompressed)

	var written []string
	// Directory modes are applied last so read-only directories can still be filled.
	dirModes := map[string]os.FileMode{}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("failed to read archive: %w", err)
		}

		path, err := entryPath(targetDir, header.Name)
		if err != nil {
			return written, err
		}
		rel, err := filepath.Rel(targetDir, path)
		if err != nil {
			return written, err
		}
		mode := header.FileInfo().Mode()

		switch header.Typeflag {
		case tar.TypeDir:
			if err := removeSymlink(path); err != nil {
				return written, err
			}
			if err := os.MkdirAll(path, 0755); err != nil {
				return written, err
			}
			dirModes[path] = mode.Perm()
		case tar.TypeReg:
			if err := writeFile(path, tarReader, mode.Perm()); err != nil {
				return written, err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return written, err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return written, err
			}
			if err := os.Symlink(header.Linkname, path); err != nil {
				return written, err
			}
		case tar.TypeLink:
			target, err := securejoin.SecureJoin(targetDir, header.Linkname)
			if err != nil {
				return written, err
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return written, err
			}
			if err := os.Link(target, path); err != nil {
				return written, err
			}
		case tar.TypeXGlobalHeader:
			continue
		default:
			return written, fmt.Errorf("unsupported entry type %q in %s", header.Typeflag, header.Name)
		}

		if rel != "." {
			written = append(written, rel)
		}
	}

	for dir, perm := range dirModes {
		if err := os.Chmod(dir, perm); err != nil {
			return written, err
		}
	}

	return written, nil
}

// entryPath resolves name under root. Symlinks in the parent directories are
// followed but kept inside root; the final element is not resolved so an
// existing link is replaced rather than written through.
func entryPath(root, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	base := filepath.Base(clean)
	if base == ".." {
		return "", fmt.Errorf("illegal archive entry %q", name)
	}
	parent, err := securejoin.SecureJoin(root, filepath.Dir(clean))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, base), nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if err := removeSymlink(path); err != nil {
		return err
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile is subject to umask and does not touch existing files' modes.
	return os.Chmod(path, perm)
}

// removeSymlink deletes path if it is a symlink so the entry replaces the
// link instead of acting on its target.
func removeSymlink(path string) error {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	return os.Remove(path)
}
