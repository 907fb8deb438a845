// Package webhookauth verifies HMAC-signed provider webhooks.
//
// The signature is hex(HMAC-SHA256(secret, "<timestamp>.<body>")) where the
// timestamp is unix seconds sent in its own header.
package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSecret          = errors.New("webhook secret not configured")
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrTimestampOutsideWindow = errors.New("timestamp outside allowed window")
	ErrInvalidSignature       = errors.New("invalid signature")
)

// Window bounds clock skew and replays in both directions.
const Window = 5 * time.Minute

type Input struct {
	Secret          string
	TimestampHeader string
	SignatureHeader string
	Body            []byte
	Now             time.Time
}

func Verify(in Input) error {
	if in.Secret == "" {
		return ErrMissingSecret
	}
	ts := strings.TrimSpace(in.TimestampHeader)
	sig := strings.TrimSpace(in.SignatureHeader)

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	sent := time.Unix(unix, 0).UTC()
	now := in.Now.UTC()
	if sent.Before(now.Add(-Window)) || sent.After(now.Add(Window)) {
		return ErrTimestampOutsideWindow
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, sign(in.Secret, ts, in.Body)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignHex computes the hex signature a sender attaches for body.
func SignHex(secret, timestampHeader string, body []byte) string {
	return hex.EncodeToString(sign(secret, timestampHeader, body))
}

func sign(secret, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}
