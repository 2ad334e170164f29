package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"analyze", "parse", "extract", "migrate"}, names)
}

func TestParseCommandReportsPerFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(good, []byte("Sunset Apartments, 120 units"), 0o644))
	missing := filepath.Join(dir, "missing.pdf")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"parse", good, missing})
	require.NoError(t, root.Execute())

	var got []parseOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, good, got[0].File)
	require.NotNil(t, got[0].Result)
	assert.Contains(t, got[0].Result.Text, "120 units")
	assert.Empty(t, got[0].Error)
	assert.Equal(t, missing, got[1].File)
	assert.NotEmpty(t, got[1].Error)
}

func TestAnalyzeCommandMissingFile(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"analyze", filepath.Join(t.TempDir(), "nope.xlsx")})
	assert.Error(t, root.Execute())
}
