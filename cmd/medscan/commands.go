package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/medscan/internal/config"
	"github.com/drfirst/medscan/internal/domain/medication"
	"github.com/drfirst/medscan/internal/fhir/r5"
	"github.com/drfirst/medscan/internal/infrastructure/postgres"
	"github.com/drfirst/medscan/internal/infrastructure/redpanda"
	"github.com/drfirst/medscan/internal/label"
	"github.com/drfirst/medscan/internal/projection"
)

// readInput reads the named file, or stdin for "-" or no argument
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseCmd() *cobra.Command {
	var side string
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse recognized label text into a medication record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			res, err := label.New(nil).Parse(string(text), label.Hints{Side: label.ParseSide(side)})
			if err != nil {
				return err
			}
			bucket := label.BucketFor(res.Confidence)
			return printJSON(cmd, struct {
				medication.ExtractionResult
				Bucket label.Bucket `json:"confidenceBucket"`
				Hint   string       `json:"hint"`
			}{res, bucket, bucket.Message()})
		},
	}
	cmd.Flags().StringVar(&side, "side", "", "label side: front, back or bottle")
	return cmd
}

func projectCmd() *cobra.Command {
	var quantity, frequency, fillDate, expires, today string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project refill and expiration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := medication.Record{}
			if quantity != "" {
				rec.Quantity = medication.Some(quantity)
			}
			if frequency != "" {
				rec.Frequency = medication.Some(frequency)
			}
			for _, d := range []struct {
				flag  string
				value string
				dst   *medication.Opt[time.Time]
			}{
				{"fill-date", fillDate, &rec.FillDate},
				{"expires", expires, &rec.ExpirationDate},
			} {
				if d.value == "" {
					continue
				}
				t, err := medication.ParseDate(d.value)
				if err != nil {
					return fmt.Errorf("--%s: %w", d.flag, err)
				}
				*d.dst = medication.Some(t)
			}

			now := time.Now()
			if today != "" {
				t, err := medication.ParseDate(today)
				if err != nil {
					return fmt.Errorf("--today: %w", err)
				}
				now = t
			}

			snap := projection.Project(rec, now)
			if snap.Empty() {
				return errors.New("nothing to project: give --quantity, --frequency and --fill-date, or --expires")
			}
			return printJSON(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&quantity, "quantity", "", "dispensed quantity, e.g. \"30 tablets\"")
	cmd.Flags().StringVar(&frequency, "frequency", "", "directions, e.g. \"twice daily\"")
	cmd.Flags().StringVar(&fillDate, "fill-date", "", "fill date")
	cmd.Flags().StringVar(&expires, "expires", "", "expiration date")
	cmd.Flags().StringVar(&today, "today", "", "evaluate as of this date instead of now")
	return cmd
}

func fhirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fhir [record.json]",
		Short: "Convert a committed record to a FHIR R5 MedicationStatement",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			var rec medication.Record
			if err := json.Unmarshal(body, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			return printJSON(cmd, r5.MedicationStatementFromRecord(rec))
		},
	}
}

// setup loads configuration and a logger for commands that reach
// infrastructure
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List embedded migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := postgres.Migrations()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	})
	return cmd
}

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage Redpanda topics",
	}

	withAdmin := func(fn func(ctx context.Context, admin *redpanda.Admin, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return fn(ctx, admin, cmd)
		}
	}

	var replication int16
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the medication topics if missing",
		RunE: withAdmin(func(ctx context.Context, admin *redpanda.Admin, cmd *cobra.Command) error {
			created, err := admin.EnsureTopics(ctx, replication)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all topics exist")
			}
			for _, name := range created {
				fmt.Fprintln(cmd.OutOrStdout(), "created", name)
			}
			return nil
		}),
	}
	ensure.Flags().Int16Var(&replication, "replication", 1, "replication factor for new topics")
	cmd.AddCommand(ensure)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List topics on the cluster",
		RunE: withAdmin(func(ctx context.Context, admin *redpanda.Admin, cmd *cobra.Command) error {
			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tPARTITIONS")
			for _, t := range topics {
				if t.Internal {
					continue
				}
				fmt.Fprintf(w, "%s\t%d\n", t.Name, t.Partitions)
			}
			return w.Flush()
		}),
	})

	var group string
	lag := &cobra.Command{
		Use:   "lag",
		Short: "Show consumer group lag per partition",
		RunE: withAdmin(func(ctx context.Context, admin *redpanda.Admin, cmd *cobra.Command) error {
			lags, err := admin.GroupLag(ctx, group)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tPARTITION\tLAG")
			for _, l := range lags {
				fmt.Fprintf(w, "%s\t%d\t%d\n", l.Topic, l.Partition, l.Lag)
			}
			fmt.Fprintf(w, "total\t\t%d\n", redpanda.TotalLag(lags))
			return w.Flush()
		}),
	}
	lag.Flags().StringVar(&group, "group", redpanda.DefaultConsumerConfig().GroupID, "consumer group")
	cmd.AddCommand(lag)
	return cmd
}
