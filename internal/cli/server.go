package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"twitch-trivia-service/internal/app"
	"twitch-trivia-service/internal/config"
	"twitch-trivia-service/internal/domain"
	"twitch-trivia-service/internal/infra/memory"
	"twitch-trivia-service/internal/infra/postgres"
	redisinfra "twitch-trivia-service/internal/infra/redis"
	"twitch-trivia-service/internal/infra/twitch"
	transport "twitch-trivia-service/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var (
		gameStore app.GameStore
		loader    memory.ContentLoader
	)
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		pgStore := postgres.NewStore(pool)
		gameStore = pgStore
		loader = pgStore
	} else {
		logger.Warn("postgres not configured, running on in-memory storage")
		memStore := memory.NewStore(sampleContent())
		gameStore = memStore
		loader = memStore
	}

	contentTTL := config.Duration(cfg.Quiz.ContentTTL, 10*time.Minute)
	var content app.ContentSource
	if redisClient != nil {
		content = redisinfra.NewContentCache(redisClient, loader, contentTTL)
	} else {
		content = memory.NewContentCache(loader, contentTTL)
	}

	var names app.NameSource = unavailableNames{}
	if cfg.Twitch.ClientID != "" {
		helix := twitch.NewHelixClient(cfg.Twitch.APIURL, cfg.Twitch.ClientID, cfg.Twitch.AppToken)
		if redisClient != nil {
			nameTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)
			names = redisinfra.NewNameCache(redisClient, helix, nameTTL)
		} else {
			names = helix
		}
	}

	grace := config.Duration(cfg.Quiz.GracePeriod, 2*time.Second)
	resolver := app.NewResolver(gameStore, names, logger)
	hub := transport.NewHub(logger)
	game := app.NewGame(gameStore, content, resolver, hub, hub, grace, logger)
	wsHandler := transport.NewWSHandler(game, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting trivia backend", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// unavailableNames makes the resolver fall back to placeholder display names
// when no Twitch credentials are configured.
type unavailableNames struct{}

func (unavailableNames) DisplayName(context.Context, string) (string, error) {
	return "", fmt.Errorf("twitch identity lookup not configured")
}

// sampleContent seeds a quiz so the service is playable without Postgres.
func sampleContent() map[string]domain.QuizContent {
	return map[string]domain.QuizContent{
		"quiz-1": {
			ID:   "quiz-1",
			Name: "Warm-up Trivia",
			Questions: []domain.Question{
				{
					ID:        "q1",
					Text:      "What is 2 + 2?",
					Options:   [domain.OptionCount]string{"3", "4", "5", "22"},
					Correct:   1,
					TimeLimit: 20 * time.Second,
				},
				{
					ID:        "q2",
					Text:      "Which planet is known as the Red Planet?",
					Options:   [domain.OptionCount]string{"Venus", "Jupiter", "Mars", "Saturn"},
					Correct:   2,
					TimeLimit: 20 * time.Second,
				},
			},
		},
	}
}
