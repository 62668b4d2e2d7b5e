package telnyx

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// Signature headers Telnyx attaches to every webhook delivery.
const (
	SignatureHeader = "Telnyx-Signature-Ed25519"
	TimestampHeader = "Telnyx-Timestamp"
)

// ErrInvalidSignature is returned when a delivery fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks the ed25519 signature on a webhook delivery.
// publicKey is the base64 key shown in the Telnyx portal; signature and
// timestamp come from the delivery headers. The signed payload is the
// timestamp and raw body joined by a pipe.
func VerifySignature(publicKey, signature, timestamp string, body []byte) error {
	key, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '|')
	signed = append(signed, body...)
	if !ed25519.Verify(ed25519.PublicKey(key), signed, sig) {
		return ErrInvalidSignature
	}
	return nil
}
