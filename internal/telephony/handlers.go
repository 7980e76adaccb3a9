package telephony

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go/twiml"

	appmw "github.com/dmdzco/donna2-sub000/internal/middleware"
)

// Handlers wires the Twilio webhooks and the media stream endpoint.
type Handlers struct {
	Recorder *Recorder
	Bridge   *Bridge
}

func NewHandlers(recorder *Recorder, bridge *Bridge) Handlers {
	return Handlers{Recorder: recorder, Bridge: bridge}
}

func (h Handlers) Register(e *echo.Echo, authToken string) {
	auth := appmw.TwilioAuth(func() string { return authToken })
	e.POST("/twilio/voice", h.voice, auth)
	e.POST("/twilio/recording-status", h.recordingStatus, auth)
	// The media stream is a websocket opened by Twilio's media gateway; it
	// carries no request signature.
	e.GET("/twilio/media", h.Bridge.HandleMediaStream)
}

// voice answers an inbound call: start the call-level recording, then hand
// the audio to the media stream where the companion session runs.
func (h Handlers) voice(c echo.Context) error {
	params, ok := c.Get("twilioParams").(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	from := params["From"]
	callSid := params["CallSid"]
	c.Echo().Logger.Infof("Inbound call from %s, CallSid=%s", from, callSid)

	if callSid != "" {
		callback := BuildAbsoluteURL(c, "/twilio/recording-status")
		go func() {
			if err := h.Recorder.StartCallRecording(callSid, callback); err != nil {
				c.Echo().Logger.Errorf("Failed to start recording for CallSid=%s: %v", callSid, err)
			}
		}()
	}

	stream := &twiml.VoiceStream{
		Url: BuildStreamURL(c, "/twilio/media"),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "callerId", Value: from},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func (h Handlers) recordingStatus(c echo.Context) error {
	params, ok := c.Get("twilioParams").(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "Failed to get Twilio parameters")
	}
	recordingSid := params["RecordingSid"]
	recordingURL := params["RecordingUrl"]
	status := params["RecordingStatus"]
	c.Echo().Logger.Infof("Recording status: SID=%s status=%s duration=%ss",
		recordingSid, status, params["RecordingDuration"])

	switch status {
	case "completed":
		fileName := fmt.Sprintf("recording_%s_%d.wav", recordingSid, time.Now().Unix())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := h.Recorder.ArchiveRecording(ctx, recordingURL, fileName); err != nil {
				c.Echo().Logger.Errorf("Failed to archive recording %s: %v", recordingSid, err)
			} else {
				c.Echo().Logger.Infof("Recording archived: %s", fileName)
			}
		}()
	case "failed", "absent":
		c.Echo().Logger.Errorf("Recording failed or absent: SID=%s status=%s", recordingSid, status)
	}

	return c.String(http.StatusOK, "OK")
}
