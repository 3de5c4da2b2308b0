package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goamr/InputParameters"
	"github.com/notargets/goamr/forest"
	"github.com/notargets/goamr/scenario"
	"github.com/notargets/goamr/verify"
)

// executeMesh runs the root command with fresh mesh flags and returns stdout
func executeMesh(t *testing.T, args ...string) (string, error) {
	t.Helper()
	MeshCmd.Flags().VisitAll(func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"mesh"}, args...))
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMeshCmd_OneTree(t *testing.T) {
	out, err := executeMesh(t, "-s", "one-tree", "-p", "off", "-n", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 28)
	assert.Equal(t, 10, strings.Count(out, verify.BoundaryMarker))
	assert.True(t, strings.HasPrefix(lines[0], "[rank 0] cell 0 face 0:"))
	assert.True(t, strings.HasPrefix(lines[27], "[rank 2]"))
}

func TestMeshCmd_Summary(t *testing.T) {
	out, err := executeMesh(t, "--scenario", "brick", "--periodic", "both", "--summary", "--strict")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "brick 2D periodic="))
}

func TestMeshCmd_NonBrick(t *testing.T) {
	_, err := executeMesh(t, "-s", "non-brick", "-p", "off")
	assert.ErrorIs(t, err, scenario.ErrNotImplemented)
}

func TestMeshCmd_BadFlags(t *testing.T) {
	_, err := executeMesh(t, "-d", "4")
	assert.Error(t, err)
	_, err = executeMesh(t, "-s", "torus")
	assert.Error(t, err)
	_, err = executeMesh(t, "-n", "0")
	assert.Error(t, err)
}

func TestMeshCmd_InputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Title: origin refinement
Dim: 3
Ranks: 2
Scenarios: [one-tree]
Periodic: "off"
`), 0o644))
	out, err := executeMesh(t, "-I", path)
	require.NoError(t, err)
	// 15 octants, 6 faces each
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 90)
}

func TestScenarioSetup(t *testing.T) {
	level := 2
	mp := &InputParameters.MeshParameters{
		Dim:       3,
		Scenarios: []string{"all", "non-brick"},
		Periodic:  "both",
		MinLevel:  &level,
		BrickSize: []int{1, 2, 3},
		Balance:   "edge",
	}
	cases, opts, err := scenarioSetup(mp)
	require.NoError(t, err)
	assert.Equal(t, []scenario.Case{
		{Kind: scenario.OneTree}, {Kind: scenario.OneTree, Periodic: true},
		{Kind: scenario.Brick}, {Kind: scenario.Brick, Periodic: true},
		{Kind: scenario.NonBrick}, {Kind: scenario.NonBrick, Periodic: true},
	}, cases)
	assert.Equal(t, 3, opts.Dim)
	assert.Equal(t, 2, opts.MinLevel)
	assert.Equal(t, []int{1, 2, 3}, opts.BrickSize)
	assert.Equal(t, forest.ConnectEdge, opts.Balance)

	mp = &InputParameters.MeshParameters{Dim: 2, Scenarios: []string{"brick"}}
	cases, opts, err = scenarioSetup(mp)
	require.NoError(t, err)
	assert.Equal(t, []scenario.Case{{Kind: scenario.Brick}}, cases)
	assert.Equal(t, -1, opts.MinLevel)
	assert.Equal(t, forest.ConnectFull, opts.Balance)
}

func TestRunMesh(t *testing.T) {
	var out bytes.Buffer
	mp := &InputParameters.MeshParameters{
		Dim:       2,
		Ranks:     2,
		Scenarios: []string{"one-tree"},
		Periodic:  "on",
	}
	// Falls back to a plain run where perf counters are not permitted
	sums, err := RunMesh(context.Background(), mp, &out, true)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 7, sums[0].GlobalCells)
	assert.Equal(t, 28, sums[0].GlobalRecords)
	assert.NotContains(t, out.String(), verify.BoundaryMarker)
}
