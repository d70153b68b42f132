package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/trawl/pkg/store"
)

// newMergeCmd creates a fresh merge command for testing
func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:  "merge <source1.db> <source2.db> [source3.db...]",
		Args: cobra.MinimumNArgs(2),
		RunE: runMerge,
	}
	cmd.Flags().StringVarP(&mergeOutput, "output", "o", "merged.db", "Output store path")
	return cmd
}

func TestMergeCmd_RequiresMinimumArgs(t *testing.T) {
	for _, args := range [][]string{{}, {"source1.db"}} {
		cmd := newMergeCmd()
		cmd.SetArgs(args)
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least 2 arg")
	}
}

func TestMergeCmd_MergesScans(t *testing.T) {
	first, _ := scanIntoStore(t)
	second, _ := scanIntoStore(t)
	dest := filepath.Join(t.TempDir(), "merged.db")

	cmd := newMergeCmd()
	_, out, _ := newTestCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{first, second, "-o", dest})
	require.NoError(t, cmd.Execute())

	output := out.String()
	assert.Contains(t, output, "Sources processed: 2")
	assert.Contains(t, output, "Output: "+dest)

	s, err := store.New(store.Config{Path: dest})
	require.NoError(t, err)
	defer s.Close()

	// Both scans saw identical content, so blobs and reports collapse while
	// each target directory keeps its own provenance.
	reports, err := s.GetAllReports()
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	provs, err := s.GetProvenance(reports[0].BlobID)
	require.NoError(t, err)
	assert.Len(t, provs, 2)
}

func TestMergeCmd_MissingSource(t *testing.T) {
	cmd := newMergeCmd()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"/nonexistent/a.db", "/nonexistent/b.db", "-o", filepath.Join(t.TempDir(), "out.db")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge failed")
}
