package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModelID string

	CalendlyKey     string
	CalendlyUserURI string

	DeepgramKey      string
	DeepgramTTSModel string

	SessionTTL time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - chat classification will not work")
	}
	openaiBase := os.Getenv("OPENAI_BASE_URL")
	if openaiBase == "" {
		openaiBase = "https://api.openai.com/v1"
	}
	openaiModel := os.Getenv("OPENAI_MODEL_ID")
	if openaiModel == "" {
		openaiModel = "gpt-4o-mini"
	}

	calendlyKey := os.Getenv("CALENDLY_API_KEY")
	calendlyUser := os.Getenv("CALENDLY_USER_URI")
	if calendlyKey == "" || calendlyUser == "" {
		log.Println("Warning: CALENDLY_API_KEY or CALENDLY_USER_URI not set - meeting booking will not work")
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - hosted voice synthesis disabled; browsers must synthesize locally")
	}
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if deepgramModel == "" {
		deepgramModel = "aura-2-thalia-en"
	}

	ttl := 30 * time.Minute
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		if mins, perr := strconv.Atoi(v); perr == nil && mins > 0 {
			ttl = time.Duration(mins) * time.Minute
		} else {
			log.Printf("Warning: invalid SESSION_TTL_MINUTES=%q - using default", v)
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:      addr,
		OpenAIKey:        openaiKey,
		OpenAIBaseURL:    openaiBase,
		OpenAIModelID:    openaiModel,
		CalendlyKey:      calendlyKey,
		CalendlyUserURI:  calendlyUser,
		DeepgramKey:      deepgramKey,
		DeepgramTTSModel: deepgramModel,
		SessionTTL:       ttl,
	}
}
