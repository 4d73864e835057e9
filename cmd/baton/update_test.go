package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		local  string
		want   bool
	}{
		{"dev always updates", "v1.0.0", "dev", true},
		{"git describe suffix always updates", "v1.0.0", "v1.0.0-3-gabcdef", true},
		{"newer patch", "v1.0.1", "v1.0.0", true},
		{"newer minor", "v1.1.0", "v1.0.9", true},
		{"newer major", "v2.0.0", "v1.9.9", true},
		{"same version", "v1.2.3", "v1.2.3", false},
		{"older remote", "v1.0.0", "v1.2.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNewer(tt.remote, tt.local))
		})
	}
}

func TestCompareSemver(t *testing.T) {
	assert.Equal(t, 1, compareSemver("v2.0.0", "v1.9.9"))
	assert.Equal(t, -1, compareSemver("v1.0.0", "v1.0.1"))
	assert.Equal(t, 0, compareSemver("1.2.3", "v1.2.3"))
	// Pre-release suffixes compare on the numeric part only.
	assert.Equal(t, 0, compareSemver("v1.2.3-rc1", "v1.2.3"))
}

func TestSemverParts(t *testing.T) {
	assert.Equal(t, [3]int{1, 2, 3}, semverParts("v1.2.3"))
	assert.Equal(t, [3]int{0, 9, 0}, semverParts("0.9.0"))
	assert.Equal(t, [3]int{1, 0, 0}, semverParts("v1.0.0-rc2"))
	assert.Equal(t, [3]int{2, 0, 0}, semverParts("v2.0"))
}

func TestFindAsset_MatchesPlatform(t *testing.T) {
	wantName, err := batonAssetName()
	require.NoError(t, err)

	release := &githubRelease{
		TagName: "v1.0.0",
		Assets: []githubAsset{
			{Name: "checksums.txt"},
			{Name: wantName, BrowserDownloadURL: "https://example.com/bin"},
			{Name: "baton_Windows_x86_64.zip"},
		},
	}

	asset := findAsset(release)
	require.NotNil(t, asset)
	assert.Equal(t, wantName, asset.Name)
}

func TestFindAsset_NoMatch(t *testing.T) {
	release := &githubRelease{
		TagName: "v1.0.0",
		Assets:  []githubAsset{{Name: "baton_Plan9_mips.tar.gz"}},
	}
	assert.Nil(t, findAsset(release))
}

func writeTarGz(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, data := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(data)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	archive := writeTarGz(t, map[string][]byte{
		"release/baton": []byte("#!binary"),
	})

	dir := t.TempDir()
	require.NoError(t, extractTarGz(bytes.NewReader(archive), dir, "baton"))

	data, err := os.ReadFile(filepath.Join(dir, "baton"))
	require.NoError(t, err)
	assert.Equal(t, []byte("#!binary"), data)
}

func TestExtractTarGz_TargetMissing(t *testing.T) {
	archive := writeTarGz(t, map[string][]byte{
		"README.md": []byte("docs"),
	})

	err := extractTarGz(bytes.NewReader(archive), t.TempDir(), "baton")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	err := extractTarGz(bytes.NewReader([]byte("plain text")), t.TempDir(), "baton")
	assert.Error(t, err)
}
