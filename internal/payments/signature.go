package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
)

// Verifier checks gateway webhook signatures.
type Verifier struct {
	secret string
}

// NewVerifier builds a Verifier over the shared webhook secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	return &Verifier{secret: secret}, nil
}

// Verify compares the hex HMAC-SHA256 of payload against the header value.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature header missing")
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(header)) {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature mismatch")
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 signature for payload. Used by tests and
// by tooling that replays events into the webhook endpoint.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
