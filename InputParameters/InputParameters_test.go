package InputParameters

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlInput = `
########################################
Title: "Refined origin, three ranks"
Dim: 3
Ranks: 3
Scenarios: [one-tree, brick]
Periodic: both
MinLevel: 2
BrickSize: [2, 1, 1]
Balance: full
Strict: true
########################################
`

const tomlInput = `
Title = "Refined origin, three ranks"
Dim = 3
Ranks = 3
Scenarios = ["one-tree", "brick"]
Periodic = "both"
MinLevel = 2
BrickSize = [2, 1, 1]
Balance = "full"
Strict = true
`

func expected() MeshParameters {
	level := 2
	return MeshParameters{
		Title:     "Refined origin, three ranks",
		Dim:       3,
		Ranks:     3,
		Scenarios: []string{"one-tree", "brick"},
		Periodic:  "both",
		MinLevel:  &level,
		BrickSize: []int{2, 1, 1},
		Balance:   "full",
		Strict:    true,
	}
}

func TestParse(t *testing.T) {
	var ip MeshParameters
	require.NoError(t, ip.Parse([]byte(yamlInput)))
	assert.Equal(t, expected(), ip)

	var it MeshParameters
	require.NoError(t, it.ParseTOML([]byte(tomlInput)))
	assert.Equal(t, expected(), it)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"case.yaml": yamlInput,
		"case.yml":  yamlInput,
		"case.toml": tomlInput,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		var ip MeshParameters
		require.NoError(t, ip.ReadFile(path), name)
		assert.Equal(t, expected(), ip, name)
	}

	bad := filepath.Join(dir, "case.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o644))
	var ip MeshParameters
	assert.Error(t, ip.ReadFile(bad))
	assert.Error(t, ip.ReadFile(filepath.Join(dir, "missing.yaml")))
}

func TestValidate(t *testing.T) {
	ip := expected()
	assert.NoError(t, ip.Validate())
	ip.Dim = 4
	assert.Error(t, ip.Validate())
	ip = expected()
	ip.Periodic = "sometimes"
	assert.Error(t, ip.Validate())
	ip = expected()
	ip.BrickSize = []int{2, 2}
	assert.Error(t, ip.Validate())
	ip = expected()
	ip.Balance = "corner"
	assert.Error(t, ip.Validate())
	// Empty input is valid, the command line supplies everything
	assert.NoError(t, (&MeshParameters{}).Validate())
}

func TestPrint(t *testing.T) {
	var (
		buf bytes.Buffer
		ip  = expected()
	)
	ip.Print(&buf)
	assert.Contains(t, buf.String(), "\"Refined origin, three ranks\"")
	assert.Contains(t, buf.String(), "= Minimum Level")
	assert.Contains(t, buf.String(), "[one-tree brick]")
}
