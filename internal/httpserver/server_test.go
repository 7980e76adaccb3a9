package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmdzco/donna2-sub000/internal/rtc"
	"github.com/dmdzco/donna2-sub000/internal/telephony"
)

func newTestServer() http.Handler {
	return New(Deps{
		RTC:             rtc.NewHandler(nil),
		Telephony:       telephony.NewHandlers(telephony.NewRecorder("", "", discardStore{}), telephony.NewBridge(nil)),
		TwilioAuthToken: "test-token",
	})
}

type discardStore struct{}

func (discardStore) UploadRecording(string, []byte) error { return nil }

func TestHealthz(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok, got %q", rec.Body.String())
	}
}

func TestCallRejectsMalformedOffer(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed offer, got %d", rec.Code)
	}
}

func TestCallRejectsEmptyOffer(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"type":"offer","sdp":""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty sdp, got %d", rec.Code)
	}
}

func TestTwilioWebhookRequiresSignature(t *testing.T) {
	srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("From=%2B15551234"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}
}
