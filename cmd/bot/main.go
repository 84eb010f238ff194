package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/vkarpenko/salesbot/internal/ai"
	"github.com/vkarpenko/salesbot/internal/bot"
	"github.com/vkarpenko/salesbot/internal/config"
	"github.com/vkarpenko/salesbot/internal/corpus"
	"github.com/vkarpenko/salesbot/internal/history"
	"github.com/vkarpenko/salesbot/internal/index"
	"github.com/vkarpenko/salesbot/internal/lifecycle"
	"github.com/vkarpenko/salesbot/internal/prompt"
	"github.com/vkarpenko/salesbot/internal/work"
	"github.com/vkarpenko/salesbot/pkg/models"
)

type askRequest struct {
	UserID   int64  `json:"user_id"`
	Question string `json:"question"`
}

type askResponse struct {
	Answer    string `json:"answer,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("salesbot", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		stdlog.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(level)
	logger.Info().Str("provider", cfg.Provider).Str("index_backend", cfg.IndexBackend).Msg("starting salesbot")

	ctx := context.Background()

	client, err := ai.NewClient(ctx, clientConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create model client")
	}

	store, closeStore, err := newEntryStore(ctx, cfg, client.Dim())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open index store")
	}
	defer closeStore()

	loader := corpus.NewLoader(cfg.KnowledgeDir)
	splitter := corpus.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	indexInit := func(ctx context.Context) (lifecycle.Retriever, error) {
		ix := index.New(client, store)
		err := ix.Ensure(ctx, func(ctx context.Context) ([]models.Chunk, error) {
			docs, err := loader.Load()
			if err != nil {
				return nil, err
			}
			return splitter.Split(docs), nil
		})
		if err != nil {
			return nil, err
		}
		return ix, nil
	}
	engineInit := func(ctx context.Context) (ai.Client, error) {
		if err := client.Load(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}

	mgr := lifecycle.NewManager(indexInit, engineInit)
	go func() {
		if err := mgr.Initialize(context.Background()); err != nil {
			logger.Error().Err(err).Msg("initialization failed; POST /admin/reindex to retry")
		}
	}()

	pool := work.NewPool(cfg.Workers)
	defer pool.Close()

	var recorder bot.HistoryRecorder
	if cfg.HistoryPath != "" {
		hs, err := history.Open(cfg.HistoryPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open history store")
		}
		defer hs.Close()
		recorder = hs
	}

	persona := prompt.NewLoader().Persona(cfg.PersonaPath)
	handler := bot.New(mgr, pool, recorder, persona, bot.Options{
		MinQuestionLen: cfg.MinQuestionLen,
		MaxQuestionLen: cfg.MaxQuestionLen,
		MaxAnswerLen:   cfg.MaxAnswerLen,
		TopK:           cfg.TopK,
		FetchK:         cfg.FetchK,
		MaxNewTokens:   cfg.MaxNewTokens,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		state, cause := mgr.State()
		w.Header().Set("Content-Type", "application/json")
		if state != lifecycle.StateReady {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		body := map[string]string{"state": state.String()}
		if cause != nil {
			body["cause"] = cause.Error()
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, askResponse{Error: "invalid request body"})
			return
		}
		answer, err := handler.Ask(r.Context(), models.Query{
			UserID:     req.UserID,
			Text:       req.Question,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			writeJSON(w, statusFor(err), askResponse{Error: userMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, askResponse{Answer: answer.Text, Truncated: answer.Truncated})
	})

	mux.HandleFunc("/admin/reindex", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		go func() {
			if err := mgr.Reinitialize(context.Background()); err != nil {
				logger.Error().Err(err).Msg("re-initialization failed")
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	chain := hlog.NewHandler(logger)(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	})(mux))

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info().Str("addr", addr).Msg("listening")
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// clientConfig maps the service configuration onto a provider client
// configuration.
func clientConfig(cfg config.Specification) *ai.ClientConfig {
	c := &ai.ClientConfig{
		BaseURL:    cfg.OllamaURL,
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		GenModel:   cfg.GenModel,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Dim:        cfg.Dim,
	}
	switch strings.ToLower(cfg.Provider) {
	case "google", "gemini", "vertexai":
		c.Provider = ai.ProviderGoogle
	case "stub":
		c.Provider = ai.ProviderStub
	default:
		c.Provider = ai.ProviderOllama
	}
	return c
}

// newEntryStore picks the index persistence backend from configuration.
func newEntryStore(ctx context.Context, cfg config.Specification, dim int) (index.Store, func(), error) {
	switch strings.ToLower(cfg.IndexBackend) {
	case "postgres":
		st, err := index.NewPGStore(ctx, cfg.Database, dim)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return index.NewDiskStore(cfg.IndexDir, cfg.EmbedModel, dim), func() {}, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the handler's error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var ve *bot.ValidationError
	var nre *lifecycle.NotReadyError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nre):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage picks the fixed user-facing template for an error.
// Internal detail never leaks into the response body.
func userMessage(err error) string {
	var ve *bot.ValidationError
	var nre *lifecycle.NotReadyError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &nre):
		return bot.MsgNotReady
	default:
		return bot.MsgFailed
	}
}
