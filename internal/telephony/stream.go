package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dmdzco/donna2-sub000/internal/session"
)

// SessionFactory builds a call session bound to the given playback sink.
type SessionFactory func(callerID string, sink session.Sink) (*session.CallSession, error)

// micChunkBytes is 100ms of 16kHz PCM16, matching what the recognizer
// expects per send.
const micChunkBytes = 3200

// streamMessage covers the subset of the Twilio media stream protocol we
// speak in both directions.
type streamMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Start     *struct {
		CallSid          string            `json:"callSid"`
		StreamSid        string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track,omitempty"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

type outMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// Bridge terminates Twilio bidirectional media streams and runs one call
// session per stream.
type Bridge struct {
	newSession SessionFactory
	upgrader   websocket.Upgrader
}

func NewBridge(newSession SessionFactory) *Bridge {
	return &Bridge{
		newSession: newSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleMediaStream upgrades the Twilio <Stream> websocket and pumps audio
// between the wire and the session until the stream stops.
func (b *Bridge) HandleMediaStream(c echo.Context) error {
	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var (
		sess       *session.CallSession
		sink       *streamSink
		cancelSess func()
		micBuf     []byte
	)
	defer func() {
		if sess != nil {
			sess.Hangup("media stream closed")
		}
		if cancelSess != nil {
			cancelSess()
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("telephony: media stream read: %v", err)
			}
			return nil
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("telephony: bad media stream message: %v", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// handshake, nothing to do until start

		case "start":
			if msg.Start == nil || sess != nil {
				continue
			}
			callerID := msg.Start.CustomParameters["callerId"]
			if callerID == "" {
				callerID = msg.Start.CallSid
			}
			sink = newStreamSink(conn, msg.Start.StreamSid)
			s, err := b.newSession(callerID, sink)
			if err != nil {
				log.Printf("telephony: build session: %v", err)
				return nil
			}
			sess = s
			ctx, cancel := context.WithCancel(context.Background())
			cancelSess = cancel
			go func() {
				if err := s.Run(ctx); err != nil {
					log.Printf("telephony: session %s: %v", s.ID, err)
				}
			}()
			log.Printf("telephony: stream %s started, caller=%s call=%s",
				msg.Start.StreamSid, callerID, msg.Start.CallSid)

		case "media":
			if sess == nil || msg.Media == nil || msg.Media.Track == "outbound" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			micBuf = append(micBuf, DecodeMulawTo16k(payload)...)
			for len(micBuf) >= micChunkBytes {
				chunk := make([]byte, micChunkBytes)
				copy(chunk, micBuf[:micChunkBytes])
				sess.FeedCallerAudio(chunk)
				micBuf = micBuf[:copy(micBuf, micBuf[micChunkBytes:])]
			}

		case "stop":
			log.Printf("telephony: stream stopped")
			return nil
		}
	}
}

// streamSink plays session audio back over the media stream. Twilio buffers
// outbound frames on its side; Reset sends a clear event so barge-in cuts
// playback immediately.
type streamSink struct {
	conn      *websocket.Conn
	streamSid string

	mu  sync.Mutex
	enc downEncoder
	out []byte
}

func newStreamSink(conn *websocket.Conn, streamSid string) *streamSink {
	return &streamSink{conn: conn, streamSid: streamSid}
}

// frameBytes is 20ms of 8kHz mu-law.
const frameBytes = 160

func (s *streamSink) WritePCM(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, s.enc.Encode(pcm)...)
	for len(s.out) >= frameBytes {
		s.sendLocked(s.out[:frameBytes])
		s.out = s.out[:copy(s.out, s.out[frameBytes:])]
	}
}

func (s *streamSink) FlushTail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) > 0 {
		s.sendLocked(s.out)
		s.out = s.out[:0]
	}
}

func (s *streamSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = s.out[:0]
	s.enc.Reset()
	msg := outMedia{Event: "clear", StreamSid: s.streamSid}
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Printf("telephony: clear: %v", err)
	}
}

func (s *streamSink) sendLocked(frame []byte) {
	msg := outMedia{Event: "media", StreamSid: s.streamSid}
	msg.Media = &struct {
		Payload string `json:"payload"`
	}{Payload: base64.StdEncoding.EncodeToString(frame)}
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Printf("telephony: media write: %v", err)
	}
}
