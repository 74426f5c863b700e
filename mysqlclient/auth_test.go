package mysqlclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrambleNative_DeterministicAndCorrectLength(t *testing.T) {
	salt := []byte("01234567890123456789")
	a := scrambleNative([]byte("secret"), salt)
	b := scrambleNative([]byte("secret"), salt)
	require.Len(t, a, 20, "mysql_native_password scramble is a SHA1 digest")
	assert.Equal(t, a, b)
}

func TestScrambleNative_DifferentPasswordsDiffer(t *testing.T) {
	salt := []byte("01234567890123456789")
	a := scrambleNative([]byte("secret"), salt)
	b := scrambleNative([]byte("different"), salt)
	assert.NotEqual(t, a, b)
}

func TestScrambleNative_DifferentSaltsDiffer(t *testing.T) {
	a := scrambleNative([]byte("secret"), []byte("aaaaaaaaaaaaaaaaaaaa"))
	b := scrambleNative([]byte("secret"), []byte("bbbbbbbbbbbbbbbbbbbb"))
	assert.NotEqual(t, a, b)
}

func TestScrambleNative_EmptyPasswordYieldsNil(t *testing.T) {
	assert.Nil(t, scrambleNative(nil, []byte("salt")))
}

func TestScrambleCachingSha2_DeterministicAndCorrectLength(t *testing.T) {
	salt := []byte("01234567890123456789")
	a := scrambleCachingSha2([]byte("secret"), salt)
	b := scrambleCachingSha2([]byte("secret"), salt)
	require.Len(t, a, 32, "caching_sha2_password scramble is a SHA256 digest")
	assert.Equal(t, a, b)
}

func TestScrambleCachingSha2_DifferentPasswordsDiffer(t *testing.T) {
	salt := []byte("01234567890123456789")
	a := scrambleCachingSha2([]byte("secret"), salt)
	b := scrambleCachingSha2([]byte("different"), salt)
	assert.NotEqual(t, a, b)
}

func TestScrambleCachingSha2_EmptyPasswordYieldsNil(t *testing.T) {
	assert.Nil(t, scrambleCachingSha2(nil, []byte("salt")))
}

func TestComputeAuthResponse_DispatchesByMethod(t *testing.T) {
	salt := []byte("01234567890123456789")

	native, err := computeAuthResponse(AuthMysqlNativePassword, []byte("secret"), salt)
	require.NoError(t, err)
	assert.Equal(t, scrambleNative([]byte("secret"), salt), native)

	sha2, err := computeAuthResponse(AuthCachingSha2Password, []byte("secret"), salt)
	require.NoError(t, err)
	assert.Equal(t, scrambleCachingSha2([]byte("secret"), salt), sha2)

	clear, err := computeAuthResponse(AuthMysqlClearPassword, []byte("secret"), salt)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), clear)
}

func TestComputeAuthResponse_UnsupportedMethodIsProtocolError(t *testing.T) {
	_, err := computeAuthResponse(AuthMethod("sspi"), []byte("secret"), []byte("salt"))
	assert.Error(t, err)
}
