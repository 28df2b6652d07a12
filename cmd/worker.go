package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sisques-labs/project-starter-sub009/internal/app"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Consume commands from Azure Service Bus and periodically resume interrupted sagas`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		application.Close(closeCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)

	if application.Azure != nil {
		g.Go(func() error {
			queue := cfg.Azure.CommandQueueName
			log.Info().Str("queue", queue).Msg("Starting command queue consumer")
			return application.Azure.StartConsumers(ctx, queue, application.Processor())
		})
	} else {
		log.Warn().Msg("Azure Service Bus disabled, command queue consumer not started")
	}

	g.Go(func() error {
		return runResumeJob(ctx, application, cfg.Saga.ResumeInterval)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// runResumeJob re-drives interrupted saga instances every interval until ctx
// is done
func runResumeJob(ctx context.Context, application *app.App, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			resumed, err := application.Orchestrator.Resume(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to resume saga instances")
				return
			}
			if resumed > 0 {
				log.Info().Int("resumed", resumed).Msg("Resumed saga instances")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule saga resume job")
	}

	log.Info().Dur("interval", interval).Msg("Starting saga resume job")
	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}
