package artifact

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	beginSHAMarker = "<!-- BEGIN SHA"
	endSHAMarker   = "<!-- END SHA"
	commentClose   = "-->"
)

// DigestExtractor finds the publisher-declared sha256 for an asset inside a
// document. The returned hex is lowercase; ok is false when there is none.
type DigestExtractor interface {
	ExtractDigest(document, assetName string) (hex string, ok bool)
}

// NotesExtractor reads digests from free-text release notes. Two forms are
// understood, the first one wins:
//
//	- actions-runner-linux-x64-2.320.1.tar.gz <!-- BEGIN SHA linux-x64 -->HEX<!-- END SHA linux-x64 -->
//	HEX  actions-runner-linux-x64-2.320.1.tar.gz
type NotesExtractor struct{}

// ExtractDigest implements DigestExtractor
func (NotesExtractor) ExtractDigest(notes, assetName string) (string, bool) {
	for _, line := range splitLines(notes) {
		if !containsName(line, assetName) {
			continue
		}
		if hex, ok := markedDigest(line); ok {
			return hex, true
		}
	}
	return checksumLine(notes, assetName)
}

// ChecksumFileExtractor reads sha256sum-style documents ("HEX  name" per
// line). A document holding nothing but one digest applies to any asset.
type ChecksumFileExtractor struct{}

// ExtractDigest implements DigestExtractor
func (ChecksumFileExtractor) ExtractDigest(document, assetName string) (string, bool) {
	if hex, ok := normalizeDigest(strings.TrimSpace(document)); ok {
		return hex, true
	}
	return checksumLine(document, assetName)
}

// checksumLine finds the "HEX  name" line naming assetName
func checksumLine(document, assetName string) (string, bool) {
	for _, line := range splitLines(document) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		hex, ok := normalizeDigest(fields[0])
		if !ok {
			continue
		}
		// "*" marks binary mode in sha256sum output
		name := path.Base(strings.TrimPrefix(fields[len(fields)-1], "*"))
		if name == assetName {
			return hex, true
		}
	}
	return "", false
}

// Verify computes the sha256 of content and compares it with the digest the
// extractor finds for assetName in document.
func Verify(extractor DigestExtractor, document, assetName string, content io.Reader) (digest.Digest, error) {
	expected, ok := extractor.ExtractDigest(document, assetName)
	if !ok {
		return "", fmt.Errorf("%w: no sha256 declared for %s", ErrDigestNotFound, assetName)
	}

	actual, err := digest.SHA256.FromReader(content)
	if err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	if !strings.EqualFold(actual.Encoded(), expected) {
		return actual, fmt.Errorf("%w: %s expected %s, got %s", ErrDigestMismatch, assetName, expected, actual.Encoded())
	}
	return actual, nil
}

// markedDigest returns the value between the BEGIN SHA and END SHA markers
func markedDigest(line string) (string, bool) {
	i := strings.Index(line, beginSHAMarker)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(beginSHAMarker):]

	j := strings.Index(rest, commentClose)
	if j < 0 {
		return "", false
	}
	rest = rest[j+len(commentClose):]

	k := strings.Index(rest, endSHAMarker)
	if k < 0 {
		return "", false
	}
	return normalizeDigest(strings.TrimSpace(rest[:k]))
}

func normalizeDigest(s string) (string, bool) {
	hex := strings.ToLower(s)
	if digest.SHA256.Validate(hex) != nil {
		return "", false
	}
	return hex, true
}

// containsName reports whether name occurs in line as a whole token, so that
// "x.tar.gz" does not match "x.tar.gz.sig".
func containsName(line, name string) bool {
	if name == "" {
		return false
	}
	for offset := 0; ; {
		i := strings.Index(line[offset:], name)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(name)
		if (start == 0 || !isNameChar(line[start-1])) && (end == len(line) || !isNameChar(line[end])) {
			return true
		}
		offset = start + 1
	}
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '-' || c == '_'
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
