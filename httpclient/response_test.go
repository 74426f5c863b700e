package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_WithHeaderDoesNotMutateOriginal(t *testing.T) {
	orig := &Response{Headers: map[string][]string{"X-A": {"1"}}}
	updated := orig.WithHeader("X-B", "2")

	assert.Equal(t, "", orig.Header("X-B"))
	assert.Equal(t, "2", updated.Header("X-B"))
	assert.Equal(t, "1", updated.Header("X-A"))
}

func TestResponse_WithBodyDoesNotMutateOriginal(t *testing.T) {
	orig := &Response{Body: []byte("one")}
	updated := orig.WithBody([]byte("two"))

	assert.Equal(t, "one", string(orig.RawBody()))
	assert.Equal(t, "two", string(updated.RawBody()))
}

func TestResponse_JSONUnmarshals(t *testing.T) {
	r := &Response{Body: []byte(`{"ok":true}`)}
	var v struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, r.JSON(&v))
	assert.True(t, v.OK)
}
