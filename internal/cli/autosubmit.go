package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/chain"
	"chainquiz-service/internal/config"
	"chainquiz-service/internal/infra/postgres"
)

// autosubmitBatch caps how many expired sessions one sweep scores.
const autosubmitBatch = 200

// NewAutosubmitCmd builds the CLI subcommand that scores expired sessions
// once and exits. The serve command runs the same sweep continuously; this
// command exists for cron-style deployments.
func NewAutosubmitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "autosubmit",
		Short: "Score expired sessions and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutosubmit(cmd.Context(), *configPath)
		},
	}
}

func runAutosubmit(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	db := openBunDB(cfg.Postgres.URL)
	defer db.Close()
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect question pool: %w", err)
	}
	defer pool.Close()

	lockMode, err := postgres.ParseLockMode(cfg.Postgres.LockMode)
	if err != nil {
		return err
	}
	relay := chain.NewClient(cfg.Chain.RelayURL, cfg.Chain.SignerAddress,
		config.TTLDuration(cfg.Chain.ConfirmTimeout, 90*time.Second))
	quiz := app.NewQuizService(
		postgres.NewStore(db, lockMode),
		postgres.NewQuestionBank(pool),
		relay,
		app.Settings{
			TimeLimitSecs:       cfg.Quiz.TimeLimitSecs,
			DefaultCount:        cfg.Quiz.DefaultCount,
			MaxCount:            cfg.Quiz.MaxCount,
			EntryFeeMicro:       cfg.Quiz.EntryFeeMicro,
			SettleAutomatically: cfg.Quiz.SettleAutomatically,
		},
		log,
	)

	n, err := quiz.AutosubmitExpired(ctx, autosubmitBatch)
	if err != nil {
		return err
	}
	log.WithField("scored", n).Info("autosubmit sweep done")
	return nil
}

// runAutosubmitLoop sweeps expired sessions on a fixed tick until ctx is
// cancelled. Used by the serve command.
func runAutosubmitLoop(ctx context.Context, quiz *app.QuizService, interval time.Duration, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := quiz.AutosubmitExpired(ctx, autosubmitBatch)
			if err != nil {
				log.WithError(err).Warn("autosubmit sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("scored", n).Info("autosubmitted expired sessions")
			}
		}
	}
}
