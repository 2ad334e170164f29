package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltin(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, LoadBuiltin(r))

	for _, id := range []string{DealExtraction, DealExtractionVision, DocumentClassifier} {
		_, err := r.GetPrompt(id)
		assert.NoError(t, err, id)
	}

	user, system, err := r.Render(DealExtraction, NewContext().Set("DocumentText", "Oak Park Apartments").Set("MaxChars", 50000))
	require.NoError(t, err)
	assert.Contains(t, user, "Oak Park Apartments")
	assert.Contains(t, user, "first 50000 characters")
	assert.NotEmpty(t, system)
}

func TestRender_MissingRequiredVariable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, LoadBuiltin(r))
	_, _, err := r.Render(DocumentClassifier, NewContext())
	assert.Error(t, err)
}

func TestLoadFromDirectory_Overrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prompts", "classification"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "prompts", "classification", "document_classification.json"),
		[]byte(`{"user_prompt_template": "custom {{.DocumentText}}"}`), 0o644))

	r := NewRegistry()
	require.NoError(t, LoadBuiltin(r))
	require.NoError(t, LoadFromDirectory(r, dir))

	pt, err := r.GetPrompt(DocumentClassifier)
	require.NoError(t, err)
	assert.Equal(t, "classification", pt.Category)

	user, _, err := r.Render(DocumentClassifier, NewContext().Set("DocumentText", "x"))
	require.NoError(t, err)
	assert.Equal(t, "custom x", user)
}
