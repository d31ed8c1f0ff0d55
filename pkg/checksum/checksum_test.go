package checksum

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256 of "hello" and of the empty input, computed with sha256sum.
const (
	helloSum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	emptySum = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestCalculateSHA256(t *testing.T) {
	got, err := CalculateSHA256(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, helloSum, got)

	got, err = CalculateSHA256(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, emptySum, got)

	other, err := CalculateSHA256(strings.NewReader("hello!"))
	require.NoError(t, err)
	assert.NotEqual(t, got, other)
	assert.Equal(t, strings.ToLower(other), other, "digest is lowercase hex")
	assert.Len(t, other, 64)
}

func TestCalculateSHA256ReadError(t *testing.T) {
	_, err := CalculateSHA256(failingReader{})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestVerifySHA256(t *testing.T) {
	ok, err := VerifySHA256(strings.NewReader("hello"), helloSum)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySHA256(strings.NewReader("hello"), strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = VerifySHA256(strings.NewReader(""), emptySum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifySHA256ReadError(t *testing.T) {
	_, err := VerifySHA256(failingReader{}, helloSum)
	assert.Error(t, err)
}
