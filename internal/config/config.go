package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. All call-loop tunables live here;
// the orchestration packages never read the environment themselves.
type Config struct {
	HTTPAddress string

	// Provider credentials
	AssemblyAIKey     string
	CerebrasKey       string
	CerebrasModelID   string
	CerebrasFastModel string
	DeepgramKey       string
	DeepgramVoice     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	TwilioAccountSID  string
	TwilioAuthToken   string
	SupabaseURL       string
	SupabaseKey       string
	SupabaseBucket    string

	// Token budget bounds for response generation.
	MinTokenBudget int
	MaxTokenBudget int

	// Per-phase fallback deadlines. If the director has not moved the call
	// past a phase by its deadline, the controller forces the transition.
	OpeningMaxDuration     time.Duration
	MainMaxDuration        time.Duration
	WindingDownMaxDuration time.Duration
	CallHardCeiling        time.Duration

	// GoodbyeGrace is the silence window after a goodbye candidate before the
	// call is allowed to close. New speech during the window discards it.
	GoodbyeGrace time.Duration

	DirectorTimeout      time.Duration
	FirstTokenTimeout    time.Duration
	FirstAudioTimeout    time.Duration
	FalseInterruptWindow time.Duration

	// InterruptMinSpeechMs is the sustained-speech threshold that separates a
	// real barge-in from coughs and line noise.
	InterruptMinSpeechMs int

	// Flush-unit boundary policy.
	FlushPunctuation string
	FlushMaxWords    int

	// Context window management.
	ContextTokenCeiling int
	KeepVerbatimTurns   int
}

// Load reads .env (if present), then environment variables, and returns a
// Config with defaults tuned for a PSTN companion call.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg := Config{
		HTTPAddress:       getEnv("HTTP_ADDRESS", ":8080"),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		CerebrasKey:       os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID:   getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		CerebrasFastModel: getEnv("CEREBRAS_FAST_MODEL_ID", "llama-3.3-70b"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramVoice:     getEnv("DEEPGRAM_VOICE", "aura-2-thalia-en"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:    getEnv("SUPABASE_BUCKET", "call-artifacts"),

		MinTokenBudget: getEnvInt("MIN_TOKEN_BUDGET", 60),
		MaxTokenBudget: getEnvInt("MAX_TOKEN_BUDGET", 300),

		OpeningMaxDuration:     getEnvDuration("OPENING_MAX_DURATION", 90*time.Second),
		MainMaxDuration:        getEnvDuration("MAIN_MAX_DURATION", 8*time.Minute),
		WindingDownMaxDuration: getEnvDuration("WINDING_DOWN_MAX_DURATION", 2*time.Minute),
		CallHardCeiling:        getEnvDuration("CALL_HARD_CEILING", 12*time.Minute),

		GoodbyeGrace: getEnvDuration("GOODBYE_GRACE", 2500*time.Millisecond),

		DirectorTimeout:      getEnvDuration("DIRECTOR_TIMEOUT", 300*time.Millisecond),
		FirstTokenTimeout:    getEnvDuration("FIRST_TOKEN_TIMEOUT", 1500*time.Millisecond),
		FirstAudioTimeout:    getEnvDuration("FIRST_AUDIO_TIMEOUT", 1200*time.Millisecond),
		FalseInterruptWindow: getEnvDuration("FALSE_INTERRUPT_WINDOW", 2*time.Second),

		InterruptMinSpeechMs: getEnvInt("INTERRUPT_MIN_SPEECH_MS", 350),

		FlushPunctuation: getEnv("FLUSH_PUNCTUATION", ".!?"),
		FlushMaxWords:    getEnvInt("FLUSH_MAX_WORDS", 12),

		ContextTokenCeiling: getEnvInt("CONTEXT_TOKEN_CEILING", 3000),
		KeepVerbatimTurns:   getEnvInt("KEEP_VERBATIM_TURNS", 6),
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if cfg.CerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - generation will not work")
	}
	if cfg.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}
	if cfg.MinTokenBudget > cfg.MaxTokenBudget {
		log.Printf("config: MIN_TOKEN_BUDGET %d > MAX_TOKEN_BUDGET %d, swapping", cfg.MinTokenBudget, cfg.MaxTokenBudget)
		cfg.MinTokenBudget, cfg.MaxTokenBudget = cfg.MaxTokenBudget, cfg.MinTokenBudget
	}

	log.Printf("config: HTTP_ADDRESS=%s", cfg.HTTPAddress)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, defaultValue)
		return defaultValue
	}
	return d
}
