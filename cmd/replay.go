package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sisques-labs/project-starter-sub009/internal/app"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
)

var (
	replayFrom          string
	replayTo            string
	replayAggregateID   string
	replayAggregateType string
	replayEventType     string
	replayBatchSize     int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay stored events onto the event bus",
	Long: `Re-publish stored events in timestamp order so that projections rebuild their
view models. Replayed events are never stored again nor forwarded to the integration topic.`,
	RunE: runReplay,
}

func init() {
	defaultFrom := time.Now().Add(-24 * time.Hour).Format(time.DateTime)

	replayCmd.Flags().StringVarP(&replayFrom, "from", "f", defaultFrom, "Start of the range (format: 2006-01-02 15:04:05 or RFC3339)")
	replayCmd.Flags().StringVarP(&replayTo, "to", "t", "", "End of the range, defaults to now")
	replayCmd.Flags().StringVar(&replayAggregateID, "aggregate-id", "", "Only replay events of this aggregate")
	replayCmd.Flags().StringVar(&replayAggregateType, "aggregate-type", "", "Only replay events of this aggregate type")
	replayCmd.Flags().StringVar(&replayEventType, "event-type", "", "Only replay events of this type")
	replayCmd.Flags().IntVarP(&replayBatchSize, "batch-size", "b", 0, "Records read per batch, defaults to replay.batch_size")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	from, err := parseTime(replayFrom)
	if err != nil {
		return errors.Wrap(err, "failed to parse start time")
	}

	to := time.Now().UTC()
	if replayTo != "" {
		if to, err = parseTime(replayTo); err != nil {
			return errors.Wrap(err, "failed to parse end time")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close(context.Background())

	replayed, err := application.Replayer.Execute(ctx, replay.Filter{
		AggregateID:   replayAggregateID,
		AggregateType: replayAggregateType,
		EventType:     replayEventType,
		From:          from,
		To:            to,
		BatchSize:     replayBatchSize,
	})
	if err != nil {
		return err
	}

	log.Info().Int("replayed", replayed).Msg("Replayed events")
	return nil
}

// parseTime accepts time.DateTime in UTC or RFC3339
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateTime, s, time.UTC)
}
