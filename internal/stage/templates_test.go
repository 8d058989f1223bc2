package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvaslab/emergence/internal/core"
	"github.com/canvaslab/emergence/internal/logging"
)

func TestLoadTemplates_EmbeddedDefaults(t *testing.T) {
	tpl, err := LoadTemplates("", logging.NewNop())
	require.NoError(t, err)

	prompt, err := tpl.Render("observation", map[string]string{
		"agents_count":    "3",
		"agent_positions": "[0,0], [1,0]",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "3 autonomous")
	assert.Contains(t, prompt, "[0,0], [1,0]")
	assert.NotContains(t, prompt, "{{agents_count}}")

	_, err = tpl.Render("narration", map[string]string{
		"observation":       "{}",
		"agents_data":       "{}",
		"previous_snapshot": "null",
	})
	require.NoError(t, err)
}

func TestLoadTemplates_DirOverridesEmbedded(t *testing.T) {
	dir := t.TempDir()
	custom := "name: observation\nprompt: |\n  custom {{agents_count}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "observation.yaml"), []byte(custom), 0o644))

	tpl, err := LoadTemplates(dir, logging.NewNop())
	require.NoError(t, err)

	prompt, err := tpl.Render("observation", map[string]string{"agents_count": "7"})
	require.NoError(t, err)
	assert.Equal(t, "custom 7\n", prompt)
}

func TestRender_UnknownTemplate(t *testing.T) {
	tpl, err := LoadTemplates("", logging.NewNop())
	require.NoError(t, err)

	_, err = tpl.Render("missing", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestLoadTemplates_RejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("prompt: no name"), 0o644))

	_, err := LoadTemplates(dir, logging.NewNop())
	assert.Error(t, err)
}
