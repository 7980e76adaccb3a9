package transcript

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AssemblyAIStream transcribes caller audio over the AssemblyAI v3 streaming
// WebSocket. Partial hypotheses are forwarded as non-final segments; the
// finalizer commits a final segment after end-of-utterance detection.
type AssemblyAIStream struct {
	apiKey    string
	conn      *websocket.Conn
	segments  chan Segment
	audioData chan []byte
	stopCh    chan struct{}
	fin       *finalizer
	mu        sync.RWMutex
	connected bool
	closeOnce sync.Once
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAIStream(apiKey string) *AssemblyAIStream {
	s := &AssemblyAIStream{
		apiKey:    apiKey,
		segments:  make(chan Segment, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
	s.fin = newFinalizer(func(delta string) {
		select {
		case <-s.stopCh:
		case s.segments <- Segment{Text: delta, Final: true, At: time.Now()}:
		}
	})
	return s
}

// Connect establishes the WebSocket session.
func (s *AssemblyAIStream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connection failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.readLoop()
	go s.writeLoop()

	log.Println("assemblyai: streaming session connected")
	return nil
}

// SendPCM16KLE queues 16kHz mono PCM for transcription.
func (s *AssemblyAIStream) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audioData <- pcm:
	default:
		log.Println("assemblyai: audio buffer full, dropping packet")
	}
	return nil
}

func (s *AssemblyAIStream) Segments() <-chan Segment { return s.segments }

// RecentlyDetectedVoice reports whether voice energy was seen in the caller
// audio within the window.
func (s *AssemblyAIStream) RecentlyDetectedVoice(window time.Duration) bool {
	return time.Since(s.fin.lastVoiceAt()) <= window
}

// detectVoiceActivity updates the finalizer's voice clock when the PCM
// buffer carries energy above a speech threshold.
func (s *AssemblyAIStream) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	if rms >= voiceRMS {
		s.fin.voice(time.Now())
	}
}

func (s *AssemblyAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.connected {
			return
		}
		close(s.stopCh)
		s.fin.stop()
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = s.conn.Close()
		}
		s.connected = false
		s.conn = nil
		// commit any uncommitted tail so the last words survive hangup
		if delta := s.fin.flush(); delta != "" {
			select {
			case s.segments <- Segment{Text: delta, Final: true, At: time.Now()}:
			default:
			}
		}
		close(s.audioData)
		close(s.segments)
		log.Println("assemblyai: connection closed")
	})
	return nil
}

func (s *AssemblyAIStream) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("assemblyai: recovered in readLoop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("assemblyai: read error: %v", err)
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *AssemblyAIStream) processMessage(message []byte) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("assemblyai: unmarshal: %v", err)
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: session began id=%s expires=%s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		select {
		case s.segments <- Segment{Text: msg.Transcript, At: time.Now()}:
		default:
		}
		s.fin.observe(msg.Transcript)
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: session terminated audio=%.2fs session=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
		if delta := s.fin.flush(); delta != "" {
			select {
			case s.segments <- Segment{Text: delta, Final: true, At: time.Now()}:
			case <-time.After(200 * time.Millisecond):
				log.Printf("assemblyai: timed out delivering final delta")
			}
		}
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai: error: %s", msg.Error)
	default:
		log.Printf("assemblyai: unknown message type: %s", msgType)
	}
}

func (s *AssemblyAIStream) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("assemblyai: recovered in writeLoop: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("assemblyai: send audio: %v", err)
				return
			}
		}
	}
}
