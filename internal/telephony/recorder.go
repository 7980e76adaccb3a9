package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// RecordingStore receives finished call recordings.
type RecordingStore interface {
	UploadRecording(key string, data []byte) error
}

// Recorder starts call-level recordings over Twilio's REST API and archives
// the finished audio.
type Recorder struct {
	accountSID string
	authToken  string
	client     *twilio.RestClient
	httpClient *http.Client
	store      RecordingStore
}

func NewRecorder(accountSID, authToken string, store RecordingStore) *Recorder {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Recorder{
		accountSID: accountSID,
		authToken:  authToken,
		client:     client,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
	}
}

// StartCallRecording creates one continuous recording on an in-progress call.
func (r *Recorder) StartCallRecording(callSid, callbackURL string) error {
	if r.accountSID == "" || r.authToken == "" {
		return fmt.Errorf("missing Twilio credentials: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN required")
	}
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(callbackURL)
	params.SetRecordingStatusCallbackMethod("POST")
	params.SetRecordingStatusCallbackEvent([]string{"completed", "absent"})
	params.SetRecordingChannels("mono")
	params.SetRecordingTrack("both")
	params.SetTrim("do-not-trim")

	if _, err := r.client.Api.CreateCallRecording(callSid, params); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	return nil
}

// ArchiveRecording downloads a finished Twilio recording and uploads it to
// the store.
func (r *Recorder) ArchiveRecording(ctx context.Context, recordingURL, fileName string) error {
	if r.accountSID == "" || r.authToken == "" {
		return fmt.Errorf("missing Twilio credentials: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	req.SetBasicAuth(r.accountSID, r.authToken)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download recording: status %d: %s", resp.StatusCode, string(preview))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	if err := r.store.UploadRecording(fileName, body); err != nil {
		return fmt.Errorf("archive recording: %w", err)
	}
	return nil
}

// BuildAbsoluteURL builds a public absolute URL for webhook callbacks.
// Priority: BASE_URL env, then X-Forwarded headers, then the request host.
func BuildAbsoluteURL(c echo.Context, path string) string {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		proto := c.Request().Header.Get("X-Forwarded-Proto")
		host := c.Request().Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			baseURL = fmt.Sprintf("%s://%s", proto, host)
		}
	}
	if baseURL == "" {
		host := c.Request().Host
		proto := "https"
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			proto = "http"
		}
		baseURL = fmt.Sprintf("%s://%s", proto, host)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return baseURL + path
}

// BuildStreamURL derives the wss URL Twilio should open for the media stream.
func BuildStreamURL(c echo.Context, path string) string {
	abs := BuildAbsoluteURL(c, path)
	if strings.HasPrefix(abs, "https://") {
		return "wss://" + strings.TrimPrefix(abs, "https://")
	}
	if strings.HasPrefix(abs, "http://") {
		return "ws://" + strings.TrimPrefix(abs, "http://")
	}
	return abs
}
