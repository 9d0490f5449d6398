package lemma

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTheory(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protocol.spthy")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegexExtractor_BasicNames(t *testing.T) {
	path := writeTheory(t, `
theory Protocol
begin

lemma secrecy:
  "All..."

lemma Secrecy_Of_Key_2:
  "All..."

end
`)

	names, err := NewRegexExtractor().ExtractLemmas(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"secrecy", "Secrecy_Of_Key_2"}, names)
}

func TestRegexExtractor_AnnotatedLemma(t *testing.T) {
	path := writeTheory(t, `
lemma injective_agreement [use_induction]:
  "All..."
`)

	names, err := NewRegexExtractor().ExtractLemmas(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"injective_agreement"}, names)
}

func TestRegexExtractor_NoLemmas(t *testing.T) {
	path := writeTheory(t, "theory Empty\nbegin\nend\n")

	names, err := NewRegexExtractor().ExtractLemmas(path)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRegexExtractor_MissingFile(t *testing.T) {
	_, err := NewRegexExtractor().ExtractLemmas(filepath.Join(t.TempDir(), "missing.spthy"))
	assert.Error(t, err)
}
