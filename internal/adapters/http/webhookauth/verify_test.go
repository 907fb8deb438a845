package webhookauth

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestVerify(t *testing.T) {
	const secret = "whsec_test"
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	body := []byte(`{"type":"payment_succeeded","data":{"auditOrderId":"ord_1","paymentIntentId":"pi_1"}}`)
	ts := func(d time.Duration) string { return strconv.FormatInt(now.Add(d).Unix(), 10) }

	tests := []struct {
		name   string
		secret string
		tsHdr  string
		sigHdr string
		want   error
	}{
		{name: "valid", secret: secret, tsHdr: ts(-2 * time.Minute), sigHdr: SignHex(secret, ts(-2*time.Minute), body)},
		{name: "prefixed signature", secret: secret, tsHdr: ts(0), sigHdr: "sha256=" + SignHex(secret, ts(0), body)},
		{name: "no secret configured", secret: "", tsHdr: ts(0), sigHdr: SignHex("", ts(0), body), want: ErrMissingSecret},
		{name: "timestamp not a number", secret: secret, tsHdr: "yesterday", sigHdr: "00", want: ErrInvalidTimestamp},
		{name: "too old", secret: secret, tsHdr: ts(-Window - time.Second), sigHdr: SignHex(secret, ts(-Window-time.Second), body), want: ErrTimestampOutsideWindow},
		{name: "too far ahead", secret: secret, tsHdr: ts(Window + time.Second), sigHdr: SignHex(secret, ts(Window+time.Second), body), want: ErrTimestampOutsideWindow},
		{name: "signature not hex", secret: secret, tsHdr: ts(0), sigHdr: "zz-not-hex", want: ErrInvalidSignature},
		{name: "wrong secret", secret: secret, tsHdr: ts(0), sigHdr: SignHex("other", ts(0), body), want: ErrInvalidSignature},
		{name: "signed other timestamp", secret: secret, tsHdr: ts(0), sigHdr: SignHex(secret, ts(-time.Second), body), want: ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(Input{Secret: tt.secret, TimestampHeader: tt.tsHdr, SignatureHeader: tt.sigHdr, Body: body, Now: now})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Verify() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := SignHex("s", ts, []byte(`{"amount":100}`))
	err := Verify(Input{Secret: "s", TimestampHeader: ts, SignatureHeader: sig, Body: []byte(`{"amount":1}`), Now: now})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify() = %v, want ErrInvalidSignature", err)
	}
}
