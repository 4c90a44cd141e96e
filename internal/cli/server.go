package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breach-session-service/internal/app"
	"breach-session-service/internal/config"
	"breach-session-service/internal/domain"
	"breach-session-service/internal/infra/memory"
	pgloader "breach-session-service/internal/infra/postgres"
	redisinfra "breach-session-service/internal/infra/redis"
	transport "breach-session-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session engine server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

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
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 4*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuestionSetLoader = memory.NewStaticSetLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgloader.NewQuestionSetLoader(pool)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questionRepo app.QuestionRepository
	if redisClient != nil {
		questionRepo = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questionRepo = memory.NewQuestionRepository(loader, questionTTL)
	}

	var directory app.Directory
	if redisClient != nil {
		directory = redisinfra.NewSessionDirectory(redisClient, redisTTL)
	} else {
		directory = memory.NewSessionDirectory()
	}

	var results app.ResultSink = memory.NewResultLog()
	if pool != nil {
		results = pgloader.NewResultSink(pool)
	}

	bus := memory.NewBus()
	service := app.NewGameService(directory, questionRepo, bus, results)
	wsHandler := transport.NewWSHandler(service, bus)

	idleTTL := config.TTLDuration(cfg.Sessions.IdleTTL, 30*time.Minute)
	sweepDone := make(chan struct{})
	if idleTTL > 0 {
		go func() {
			ticker := time.NewTicker(idleTTL / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := service.SweepIdle(idleTTL); n > 0 {
						log.Printf("swept %d idle sessions", n)
					}
				case <-sweepDone:
					return
				}
			}
		}()
	}
	defer close(sweepDone)

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
		log.Printf("starting session engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionSets provides a minimal demo set; swap the loader for the
// Postgres-backed one in production.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"set-1": {
			ID: "set-1",
			Questions: []domain.Question{
				{
					ID:          "q1",
					Prompt:      "Which protocol secures HTTP traffic?",
					Answer:      "TLS",
					Distractors: []string{"FTP", "SMTP", "DNS"},
					Difficulty:  1,
					Order:       0,
				},
				{
					ID:          "q2",
					Prompt:      "What does a firewall filter?",
					Answer:      "Network traffic",
					Distractors: []string{"Disk usage", "CPU load"},
					Difficulty:  2,
					Order:       1,
				},
				{
					ID:          "q3",
					Prompt:      "What is the practice of tricking users into revealing secrets called?",
					Answer:      "Phishing",
					Distractors: []string{"Caching", "Routing", "Hashing"},
					Difficulty:  2,
					Order:       2,
				},
			},
		},
	}
}
