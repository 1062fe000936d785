package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicedesk/voicedesk/internal/chat"
	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/httpserver"
	"github.com/voicedesk/voicedesk/internal/llm"
	"github.com/voicedesk/voicedesk/internal/scheduler"
	"github.com/voicedesk/voicedesk/internal/session"
	"github.com/voicedesk/voicedesk/internal/speech"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	sessions := session.NewStore(cfg.SessionTTL)
	classifier := llm.NewClassifier(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModelID)
	calendar := scheduler.NewCalendlyClient(cfg.CalendlyKey)
	coordinator := scheduler.NewCoordinator(calendar, cfg.CalendlyUserURI)
	chatSvc := chat.NewService(classifier, coordinator, sessions)

	var synth *speech.Synthesizer
	if cfg.DeepgramKey != "" {
		synth = speech.NewSynthesizer(cfg.DeepgramKey, cfg.DeepgramTTSModel)
	}
	voiceGW := httpserver.NewVoiceGateway(chatSvc, synth)

	e := httpserver.New(httpserver.NewHandlers(chatSvc, voiceGW))

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, time.Minute)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
