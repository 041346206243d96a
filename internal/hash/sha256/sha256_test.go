package sha256

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDigest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestSum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, helloDigest, Sum([]byte("hello")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sum(nil))
}

func TestDigestMatchesSum(t *testing.T) {
	t.Parallel()

	d := NewDigest()
	n, err := io.Copy(d, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.EqualValues(t, 5, d.Size())
	assert.Equal(t, helloDigest, d.Hex())
}
