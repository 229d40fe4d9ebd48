package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAliases(t *testing.T) {
	cases := map[string]Language{
		"python":     Python,
		"PYTHON":     Python,
		"py":         Python,
		"python3":    Python,
		"javascript": JavaScript,
		"js":         JavaScript,
		"node":       JavaScript,
		"java":       Java,
		"cpp":        CPP,
		"c++":        CPP,
		" cpp ":      CPP,
	}
	for tag, want := range cases {
		got, err := Parse(tag)
		require.NoError(t, err, "tag %q", tag)
		assert.Equal(t, want, got, "tag %q", tag)
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("brainfuck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestConfigTableComplete(t *testing.T) {
	for _, lang := range All() {
		cfg := lang.Config()
		assert.NotEmpty(t, cfg.Image, "%s image", lang)
		assert.NotEmpty(t, cfg.FallbackImage, "%s fallback", lang)
		assert.NotEmpty(t, cfg.FileName, "%s filename", lang)
		assert.NotEmpty(t, cfg.RunCmd, "%s run command", lang)
	}
}

func TestJavaFileName(t *testing.T) {
	// javac requires the file name to match the public class.
	assert.Equal(t, "Solution.java", Java.Config().FileName)
	assert.NotEmpty(t, Java.Config().CompileCmd)
}

func TestInterpretedLanguagesHaveNoCompileStep(t *testing.T) {
	assert.Empty(t, Python.Config().CompileCmd)
	assert.Empty(t, JavaScript.Config().CompileCmd)
}
