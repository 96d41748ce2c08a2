package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/chain"
	"chainquiz-service/internal/config"
	"chainquiz-service/internal/domain"
	"chainquiz-service/internal/infra/memory"
	"chainquiz-service/internal/infra/postgres"
	redisbank "chainquiz-service/internal/infra/redis"
	transport "chainquiz-service/internal/transport/http"
)

// NewServeCmd builds the CLI subcommand to start the API server.
func NewServeCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the quiz API server",
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
	log := newLogger()

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

	var store app.Store
	var bank app.QuestionBank
	if cfg.Postgres.URL != "" {
		lockMode, err := postgres.ParseLockMode(cfg.Postgres.LockMode)
		if err != nil {
			return err
		}
		db := openBunDB(cfg.Postgres.URL)
		defer db.Close()
		store = postgres.NewStore(db, lockMode)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect question pool: %w", err)
		}
		defer pool.Close()
		bank = postgres.NewQuestionBank(pool)
	} else {
		log.Warn("no postgres configured, using in-memory store with sample questions")
		store = memory.NewStore()
		bank = sampleQuestionBank()
	}

	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		bank = redisbank.NewQuestionBank(redisClient, bank, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	}

	relay := chain.NewClient(cfg.Chain.RelayURL, cfg.Chain.SignerAddress,
		config.TTLDuration(cfg.Chain.ConfirmTimeout, 90*time.Second))

	settings := app.Settings{
		TimeLimitSecs:       cfg.Quiz.TimeLimitSecs,
		DefaultCount:        cfg.Quiz.DefaultCount,
		MaxCount:            cfg.Quiz.MaxCount,
		EntryFeeMicro:       cfg.Quiz.EntryFeeMicro,
		SettleAutomatically: cfg.Quiz.SettleAutomatically,
	}
	quiz := app.NewQuizService(store, bank, relay, settings, log)
	tournament := app.NewTournamentService(quiz, relay, cfg.Tournament.MaxDailyPlays, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := transport.NewRouter(quiz, tournament, settings, registry, log)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go runAutosubmitLoop(sweepCtx, quiz, 30*time.Second, log)

	go func() {
		log.WithField("port", finalPort).Info("starting quiz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestionBank provides a minimal question set for running without a
// database.
func sampleQuestionBank() app.QuestionBank {
	return memory.NewStaticQuestionBank(
		[]domain.Question{
			{ID: 1, Text: "Which consensus mechanism does Celo use?", Category: "chain", IsActive: true},
			{ID: 2, Text: "How many decimals does cUSD have?", Category: "tokens", IsActive: true},
			{ID: 3, Text: "What does an entry fee buy?", Category: "game", IsActive: true},
		},
		[]domain.QuestionOption{
			{ID: 11, QuestionID: 1, Text: "Proof of Stake", IsCorrect: true},
			{ID: 12, QuestionID: 1, Text: "Proof of Work"},
			{ID: 13, QuestionID: 1, Text: "Proof of Authority"},
			{ID: 21, QuestionID: 2, Text: "18", IsCorrect: true},
			{ID: 22, QuestionID: 2, Text: "6"},
			{ID: 23, QuestionID: 2, Text: "8"},
			{ID: 31, QuestionID: 3, Text: "One quiz session", IsCorrect: true},
			{ID: 32, QuestionID: 3, Text: "A tournament pass"},
		},
	)
}
