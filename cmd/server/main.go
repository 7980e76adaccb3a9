package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmdzco/donna2-sub000/internal/config"
	"github.com/dmdzco/donna2-sub000/internal/director"
	"github.com/dmdzco/donna2-sub000/internal/httpserver"
	"github.com/dmdzco/donna2-sub000/internal/llm"
	"github.com/dmdzco/donna2-sub000/internal/memory"
	"github.com/dmdzco/donna2-sub000/internal/postcall"
	"github.com/dmdzco/donna2-sub000/internal/rtc"
	"github.com/dmdzco/donna2-sub000/internal/session"
	"github.com/dmdzco/donna2-sub000/internal/telephony"
	"github.com/dmdzco/donna2-sub000/internal/transcript"
	"github.com/dmdzco/donna2-sub000/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	cerebras := llm.NewCerebrasClient(cfg.CerebrasKey)

	var (
		provider memory.Provider
		sink     memory.Sink
		recStore telephony.RecordingStore
	)
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		store, err := memory.NewSupabaseStore(memory.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Fatalf("supabase: %v", err)
		}
		provider, sink, recStore = store, store, store
	} else {
		log.Println("Warning: SUPABASE_URL not set - using in-memory caller store")
		mem := memory.NewMemStore()
		provider, sink, recStore = mem, mem, mem
	}

	analyzer := postcall.NewAnalyzer(cerebras, cfg.CerebrasFastModel, sink)

	// newSession builds the per-call stack. Each call gets its own
	// recognizer and synthesis connection; the LLM client and stores are
	// shared.
	newSession := func(callerID string, audioSink session.Sink) (*session.CallSession, error) {
		speaker, err := tts.NewDeepgramStream(context.Background(), cfg.DeepgramKey, cfg.DeepgramVoice)
		if err != nil {
			return nil, err
		}
		deps := session.Deps{
			Config:     cfg,
			Recognizer: transcript.NewAssemblyAIStream(cfg.AssemblyAIKey),
			Speaker:    speaker,
			Fallback:   tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID),
			Sink:       audioSink,
			Stream:     cerebras,
			Director:   director.New(cerebras, cfg.CerebrasFastModel, cfg.DirectorTimeout),
			Memory:     provider,
			Analyzer:   analyzer,
		}
		return session.New(callerID, deps), nil
	}

	recorder := telephony.NewRecorder(cfg.TwilioAccountSID, cfg.TwilioAuthToken, recStore)
	bridge := telephony.NewBridge(telephony.SessionFactory(newSession))

	srv := httpserver.New(httpserver.Deps{
		RTC:             rtc.NewHandler(rtc.SessionFactory(newSession)),
		Telephony:       telephony.NewHandlers(recorder, bridge),
		TwilioAuthToken: cfg.TwilioAuthToken,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
	log.Println("server stopped")
}
