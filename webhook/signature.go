// Package webhook authenticates change notifications with HMAC-SHA256
// signatures over a canonical form of the JSON body.
//
// The canonical form is the body decoded and re-encoded compactly with
// object keys sorted and numbers kept verbatim, so senders may reorder keys
// or change whitespace without breaking the signature.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/poiesic/pagerag/core"
)

// SignatureHeader carries the hex signature of a request body.
const SignatureHeader = "X-Signature"

// signaturePrefix is accepted in front of a signature and ignored.
const signaturePrefix = "sha256="

// MaxBodyBytes bounds the request bodies VerifyRequest reads.
const MaxBodyBytes = 1 << 20

var (
	// ErrSignatureMissing is returned when a request carries no signature.
	// It also matches core.ErrSignatureInvalid.
	ErrSignatureMissing = fmt.Errorf("%w: missing signature", core.ErrSignatureInvalid)

	// ErrSecretRequired is returned when signing or verifying without a secret.
	ErrSecretRequired = errors.New("signature secret required")

	// ErrMalformedBody is returned for a body that is not a single JSON value.
	ErrMalformedBody = errors.New("body is not valid JSON")
)

// Canonicalize returns the canonical encoding of a JSON body.
func Canonicalize(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedBody)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the hex HMAC-SHA256 of the canonical body under secret.
func Sign(body []byte, secret string) (string, error) {
	if secret == "" {
		return "", ErrSecretRequired
	}
	canonical, err := Canonicalize(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks signature against body. An empty signature yields
// ErrSignatureMissing; a mismatch or an unsignable body yields an error
// wrapping core.ErrSignatureInvalid. Comparison is constant time.
func Verify(body []byte, signature, secret string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	if signature == "" {
		return ErrSignatureMissing
	}
	expected, err := Sign(body, secret)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSignatureInvalid, err)
	}
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", core.ErrSignatureInvalid)
	}
	return nil
}

// VerifyRequest verifies the SignatureHeader of r against its body and
// returns the body. r.Body is replaced so handlers can read it again.
func VerifyRequest(r *http.Request, secret string) ([]byte, error) {
	signature := r.Header.Get(SignatureHeader)
	if strings.TrimSpace(signature) == "" {
		return nil, ErrSignatureMissing
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err := Verify(body, signature, secret); err != nil {
		return nil, err
	}
	return body, nil
}
