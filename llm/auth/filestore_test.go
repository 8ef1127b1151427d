package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())

	got, err := store.Load("missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	tf := &TokenFile{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		Type:         "oauth",
	}
	require.NoError(t, store.Save("qwen-oauth-1-default", tf))

	loaded, err := store.Load("qwen-oauth-1-default")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, tf.AccessToken, loaded.AccessToken)
	assert.Equal(t, tf.RefreshToken, loaded.RefreshToken)
	assert.True(t, tf.ExpiresAt.Equal(loaded.ExpiresAt))
}
