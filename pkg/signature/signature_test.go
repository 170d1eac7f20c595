package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, Sign("s3cret", body))
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, Sign("", body))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"a":1}`)
	header := Sign("key", body)

	t.Run("valid", func(t *testing.T) {
		ok, err := Verify("key", body, header)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("body changed by one byte", func(t *testing.T) {
		ok, err := Verify("key", []byte(`{"a":2}`), header)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong secret", func(t *testing.T) {
		ok, err := Verify("other", body, header)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing prefix", func(t *testing.T) {
		_, err := Verify("key", body, "deadbeef")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := Verify("key", body, "sha256=zz")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}
