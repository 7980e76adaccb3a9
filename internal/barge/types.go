package barge

import "time"

// Frame10ms is a 10ms mono PCM frame at SampleRate Hz. At 16kHz this is
// 160 int16 samples.
type Frame10ms []int16

// Config holds the interruption detector thresholds.
type Config struct {
	// MinSpeechMs is how long caller speech must be sustained while the
	// assistant speaks before an interruption fires.
	MinSpeechMs int
	// HysteresisOffMs of near-silence clears accumulated speech votes.
	HysteresisOffMs int
	// PreRollMs of caller audio preserved before the trigger point, so the
	// recognizer does not lose the interruption's first syllables.
	PreRollMs int
	// ASRTokens is the number of novel transcript tokens that count as
	// recognizer confirmation of real speech.
	ASRTokens  int
	SampleRate int
}

// DefaultTelephony is tuned for an 8kHz-originated phone leg upsampled
// to 16kHz.
func DefaultTelephony() Config {
	return Config{
		MinSpeechMs:     350,
		HysteresisOffMs: 200,
		PreRollMs:       220,
		ASRTokens:       2,
		SampleRate:      16000,
	}
}

// Cues reports which detectors agreed when an interruption fired.
type Cues struct {
	Voice bool
	ASR   bool
}

// Events lets the session react to the detector.
type Events struct {
	// OnInterrupt fires once sustained speech crosses MinSpeechMs. preRoll
	// holds the last PreRollMs of caller PCM16LE at SampleRate.
	OnInterrupt func(ts time.Time, cues Cues, preRoll []byte)
}
