package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
)

func sign(token, data string) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	token := "secret"
	fullURL := "https://example.com/twilio/voice"
	params := map[string]string{"From": "+15551234", "CallSid": "CA1"}

	// signed string: URL + params in sorted key order
	good := sign(token, fullURL+"CallSid"+"CA1"+"From"+"+15551234")
	if !ValidateTwilioSignature(token, good, fullURL, params) {
		t.Fatal("expected valid signature to pass")
	}
	if ValidateTwilioSignature(token, "bogus", fullURL, params) {
		t.Fatal("expected bogus signature to fail")
	}
	if ValidateTwilioSignature(token, good, "https://example.com/other", params) {
		t.Fatal("expected URL mismatch to fail")
	}
	if ValidateTwilioSignature("", good, fullURL, params) {
		t.Fatal("expected missing token to fail")
	}
}
