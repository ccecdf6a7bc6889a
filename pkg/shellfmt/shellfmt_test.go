package shellfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNormalizesSpacing(t *testing.T) {
	got, err := Format("ls   -la    /tmp")
	require.NoError(t, err)
	assert.Equal(t, "ls -la /tmp", got)
}

func TestFormatKeepsPipes(t *testing.T) {
	got, err := Format("cat foo.txt|grep bar|wc -l")
	require.NoError(t, err)
	assert.Equal(t, "cat foo.txt | grep bar | wc -l", got)
}

func TestFormatInvalidShellPassesThrough(t *testing.T) {
	input := "this is ((( not shell"
	got, err := Format(input)
	require.NoError(t, err)
	assert.Equal(t, input, got)
}

func TestFormatEmpty(t *testing.T) {
	got, err := Format("   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPrettyLine(t *testing.T) {
	assert.Equal(t, "$ ls -la", PrettyLine("$ ls    -la"))
	assert.Equal(t, "plain output, untouched", PrettyLine("plain output, untouched"))
}
