package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	linkname string
}

// buildTarGz returns an in-memory gzip compressed tar archive
func buildTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     e.mode,
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func runnerArchive(t *testing.T) []byte {
	return buildTarGz(t, []tarEntry{
		{name: "bin/", typeflag: tar.TypeDir, mode: 0755},
		{name: "bin/Runner.Listener", body: "#!/bin/sh\necho listener\n", mode: 0755},
		{name: "config.sh", body: "#!/bin/sh\necho configure\n", mode: 0755},
		{name: "run.sh", body: "#!/bin/sh\necho run\n", mode: 0755},
		{name: "env.sh", body: "#!/bin/sh\n", mode: 0644},
	})
}

func releaseNotes(assetName, hex string) string {
	return "## Linux x64\n" +
		"```bash\n" +
		"$ curl -O -L https://github.com/actions/runner/releases/download/v2.320.1/" + assetName + "\n" +
		"$ tar xzf ./" + assetName + "\n" +
		"```\n\n" +
		"## SHA-256 Checksums\n\n" +
		"The SHA-256 checksums for the packages included in this build are shown below:\n\n" +
		"- actions-runner-win-x64-2.320.1.zip <!-- BEGIN SHA win-x64 -->" +
		"0000000000000000000000000000000000000000000000000000000000000000<!-- END SHA win-x64 -->\n" +
		"- " + assetName + " <!-- BEGIN SHA linux-x64 -->" + hex + "<!-- END SHA linux-x64 -->\n"
}
