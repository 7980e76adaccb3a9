package transcript

import "time"

// Segment is one piece of recognized caller speech. Partials stream as the
// recognizer revises its hypothesis; a final segment is the delta committed
// after end-of-utterance detection.
type Segment struct {
	Text  string
	Final bool
	At    time.Time
}

// Stream is the per-call speech recognition connection.
type Stream interface {
	Connect() error
	// SendPCM16KLE feeds 16kHz mono little-endian PCM from the caller leg.
	SendPCM16KLE(pcm []byte) error
	// Segments yields partial and final segments in arrival order.
	Segments() <-chan Segment
	// RecentlyDetectedVoice reports whether voice energy was heard within
	// the window. Used by interruption detection while the assistant speaks.
	RecentlyDetectedVoice(window time.Duration) bool
	Close() error
}
