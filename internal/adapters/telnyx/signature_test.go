package telnyx

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signDelivery(t *testing.T, priv ed25519.PrivateKey, timestamp string, body []byte) string {
	t.Helper()
	signed := append([]byte(timestamp+"|"), body...)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, signed))
}

func TestVerifySignatureAcceptsValidDelivery(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	body := []byte(`{"data":{"event_type":"call.answered"}}`)
	ts := "1756600000"
	sig := signDelivery(t, priv, ts, body)

	key := base64.StdEncoding.EncodeToString(pub)
	assert.NoError(t, VerifySignature(key, sig, ts, body))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key := base64.StdEncoding.EncodeToString(pub)

	body := []byte(`{"data":{"event_type":"call.answered"}}`)
	ts := "1756600000"
	sig := signDelivery(t, priv, ts, body)

	tampered := []byte(`{"data":{"event_type":"call.hangup"}}`)
	assert.ErrorIs(t, VerifySignature(key, sig, ts, tampered), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(key, sig, "1756600001", body), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(key, "not-base64!", ts, body), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("not-a-key", sig, ts, body), ErrInvalidSignature)
}
