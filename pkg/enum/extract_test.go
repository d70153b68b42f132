package enum

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/types"
)

// zipOf builds a zip archive holding files in the given order.
func zipOf(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtract_Zip(t *testing.T) {
	content := zipOf(t,
		[2]string{"dropper/run.ps1", "IEX (New-Object Net.WebClient)"},
		[2]string{"dropper/", ""},
		[2]string{"readme.txt", "hello"},
	)

	got, err := Extract("drop.ZIP", content, ExtractLimits{})
	require.NoError(t, err)
	require.Len(t, got, 2, "directories are skipped")
	assert.Equal(t, ExtractedContent{Name: "dropper/run.ps1", Content: []byte("IEX (New-Object Net.WebClient)")}, got[0])
	assert.Equal(t, "readme.txt", got[1].Name)
}

func TestExtract_OfficeIsZip(t *testing.T) {
	content := zipOf(t, [2]string{"word/vbaProject.bin", "Auto_Open"})

	got, err := Extract("invoice.docm", content, ExtractLimits{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "word/vbaProject.bin", got[0].Name)
}

func TestExtract_Limits(t *testing.T) {
	content := zipOf(t,
		[2]string{"a", "aaaa"},
		[2]string{"big", "bbbbbbbbbb"},
		[2]string{"c", "cccc"},
		[2]string{"d", "dddd"},
	)

	tests := []struct {
		name   string
		limits ExtractLimits
		want   []string
	}{
		{name: "defaults", want: []string{"a", "big", "c", "d"}},
		{name: "member size", limits: ExtractLimits{MaxMemberSize: 4}, want: []string{"a", "c", "d"}},
		{name: "member count", limits: ExtractLimits{MaxMembers: 2}, want: []string{"a", "big"}},
		{name: "total size", limits: ExtractLimits{MaxTotalSize: 15}, want: []string{"a", "big"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract("x.zip", content, tt.limits)
			require.NoError(t, err)
			var names []string
			for _, ec := range got {
				names = append(names, ec.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "unsupported", path: "notes.txt", wantErr: "unsupported container type"},
		{name: "corrupt zip", path: "x.zip", wantErr: "failed to open zip"},
		{name: "corrupt 7z", path: "x.7z", wantErr: "failed to open 7z"},
		{name: "corrupt pdf", path: "x.pdf", wantErr: "failed to open PDF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.path, []byte("definitely not a container"), ExtractLimits{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Extract("notes.txt", nil, ExtractLimits{})
	assert.ErrorIs(t, err, ErrUnsupportedContainer)
}

func TestParseExtract(t *testing.T) {
	for _, kinds := range []string{"", "all", "zip", "zip, 7z,PDF"} {
		assert.NoError(t, ParseExtract(kinds), kinds)
	}
	err := ParseExtract("zip,rar")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown extract type "rar"`)
}

func TestShouldExtract(t *testing.T) {
	tests := []struct {
		kinds string
		path  string
		want  bool
	}{
		{kinds: "all", path: "a.zip", want: true},
		{kinds: "all", path: "a.txt", want: false},
		{kinds: "zip,7z", path: "dir/a.7z", want: true},
		{kinds: "zip,7z", path: "a.pdf", want: false},
		{kinds: "ZIP", path: "a.Zip", want: true},
		{kinds: "docx", path: "a.zip", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldExtract(tt.kinds, tt.path), "%s %s", tt.kinds, tt.path)
	}
}

func TestFilesystemEnumerator_ExtractArchives(t *testing.T) {
	root := t.TempDir()
	archive := zipOf(t,
		[2]string{"payload.js", "eval(atob('...'))"},
		[2]string{"blob.bin", "MZ\x00\x00"},
	)
	require.NoError(t, os.WriteFile(filepath.Join(root, "drop.zip"), archive, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.zip"), []byte("not a zip"), 0o644))

	enumerate := func(cfg Config) []string {
		var mu sync.Mutex
		var got []string
		err := NewFilesystemEnumerator(cfg).Enumerate(context.Background(), func(content []byte, blobID types.BlobID, prov types.Provenance) error {
			assert.Equal(t, types.ComputeBlobID(content), blobID)
			label := prov.Kind() + ":" + filepath.Base(prov.Path())
			if a, ok := prov.(types.ArchiveProvenance); ok {
				assert.Equal(t, filepath.Join(root, "drop.zip"), a.ArchivePath)
				label = prov.Kind() + ":" + a.MemberPath
			}
			mu.Lock()
			got = append(got, label)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		sort.Strings(got)
		return got
	}

	assert.Equal(t,
		[]string{"file:broken.zip", "file:drop.zip"},
		enumerate(Config{Root: root}))

	assert.Equal(t,
		[]string{"archive:blob.bin", "archive:payload.js", "file:broken.zip", "file:drop.zip"},
		enumerate(Config{Root: root, ExtractArchives: "zip"}))

	assert.Equal(t,
		[]string{"archive:payload.js", "file:broken.zip"},
		enumerate(Config{Root: root, ExtractArchives: "all", TextOnly: true}),
		"text-only drops binary containers and members")
}
