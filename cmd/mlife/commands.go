package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mlife-core/platform/pkg/aggregation"
	"github.com/mlife-core/platform/pkg/canonical"
	"github.com/mlife-core/platform/pkg/common/config"
	"github.com/mlife-core/platform/pkg/common/kafka"
	"github.com/mlife-core/platform/pkg/common/logger"
	"github.com/mlife-core/platform/pkg/common/models"
	"github.com/mlife-core/platform/pkg/deid"
	"github.com/mlife-core/platform/pkg/ingestion"
	"github.com/mlife-core/platform/pkg/mapping"
	"github.com/mlife-core/platform/pkg/pipeline"
	"github.com/mlife-core/platform/pkg/storage"
)

func parseCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <export>",
		Short: "Parse an export into the canonical long-format table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			scrub, _ := cmd.Flags().GetBool("deid")
			terms, _ := cmd.Flags().GetStringSlice("term")

			raw, err := readInput(args[0])
			if err != nil {
				return err
			}
			res, err := parser(cfg).Parse(cmd.Context(), raw)
			if err != nil {
				return err
			}

			series := res.Series
			if scrub {
				if series, err = scrubSeries(cfg, series, terms); err != nil {
					return err
				}
			}

			var buf bytes.Buffer
			if err := canonical.Write(&buf, series); err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), out, buf.Bytes()); err != nil {
				return err
			}

			logger.Log.WithFields(map[string]interface{}{
				"records":  len(series),
				"blocks":   len(res.Blocks),
				"warnings": len(res.Warnings),
				"output":   out,
			}).Info("canonical table written")
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file; .zst or .lz4 selects compression (default stdout)")
	cmd.Flags().Bool("deid", cfg.DeidEnabled, "Mask identifying text before writing")
	cmd.Flags().StringSlice("term", nil, "Extra literal terms to mask")
	return cmd
}

func aggregateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <export|canonical>",
		Short: "Aggregate an export or canonical table into daily instrument records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			out, _ := flags.GetString("output")
			mappingFile, _ := flags.GetString("mapping")
			workers, _ := flags.GetInt("workers")

			q := url.Values{}
			for flag, param := range map[string]string{
				"record-id":    "record_id",
				"event-name":   "event_name",
				"strategy":     "strategy",
				"nearest-time": "nearest_time",
				"anchor-day":   "anchor_day",
				"weight-kg":    "weight_kg",
			} {
				if v, _ := flags.GetString(flag); v != "" {
					q.Set(param, v)
				}
			}
			for flag, param := range map[string]string{
				"days":           "days",
				"instruments":    "instruments",
				"field-strategy": "field_strategy",
				"reference-time": "reference_time",
				"device-start":   "device_start",
			} {
				values, _ := flags.GetStringSlice(flag)
				for _, v := range values {
					q.Add(param, v)
				}
			}
			req, err := pipeline.ParseRunRequest(q, models.Strategy(cfg.DefaultStrategy))
			if err != nil {
				return err
			}

			series, err := loadSeries(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}

			registry, err := mapping.Load(mappingFile)
			if err != nil {
				return err
			}
			res, err := aggregation.NewAggregator(registry, workers).Run(cmd.Context(), series, req.Aggregation)
			if err != nil {
				return err
			}

			payload, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), out, append(payload, '\n')); err != nil {
				return err
			}
			if len(res.Rejected) > 0 {
				logger.Log.WithField("rejected", len(res.Rejected)).Warn("some records failed validation")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringP("output", "o", "", "Output file; .zst or .lz4 selects compression (default stdout)")
	f.String("record-id", "", "Registry record id (required)")
	f.String("event-name", "", "Registry event name")
	f.StringSlice("days", nil, "Days to aggregate, YYYY-MM-DD (default all)")
	f.StringSlice("instruments", nil, "Instruments to aggregate (default all)")
	f.String("strategy", "", "Default value strategy: nearest, median, mean, first, last")
	f.StringSlice("field-strategy", nil, "Per-field strategy as field=strategy or instrument.field=strategy")
	f.String("nearest-time", "", "Time of day nearest resolves against, HH:MM")
	f.StringSlice("reference-time", nil, "Per-instrument reference as instrument=HH:MM")
	f.String("anchor-day", "", "Day numbered as repeat instance 1")
	f.String("weight-kg", "", "Body weight overriding the export")
	f.StringSlice("device-start", nil, "Device start as SOURCE=YYYY-MM-DDTHH:MM")
	f.String("mapping", cfg.MappingFile, "YAML mapping tables (default built-in)")
	f.Int("workers", cfg.AggregationWorkers, "Parallel aggregation units")
	_ = cmd.MarkFlagRequired("record-id")
	return cmd
}

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect mapping tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the built-in mapping tables as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := mapping.Dump(mapping.DefaultInstruments())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a YAML mapping file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := mapping.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", strings.Join(registry.Names(), ", "))
			return nil
		},
	})
	return cmd
}

func tailCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print aggregated record events from the hand-off topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is not set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, group)
			defer consumer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err := consumer.Consume(ctx, func(_ context.Context, event models.Event) error {
				if event.Type != pipeline.EventRecordAggregated {
					return nil
				}
				return enc.Encode(event.Data)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("group", "mlife-tail", "Consumer group id")
	return cmd
}

func parser(cfg *config.Config) *ingestion.Service {
	return ingestion.NewService(ingestion.Options{Delimiter: cfg.Delimiter(), Encoding: cfg.ExportEncoding})
}

func scrubSeries(cfg *config.Config, series models.Series, terms []string) (models.Series, error) {
	rules, err := deid.LoadRules(cfg.DeidRulesFile)
	if err != nil {
		return nil, err
	}
	terms = append(terms, deid.IdentifierTerms(rules, series)...)
	scrubber, err := deid.NewScrubber(rules, cfg.DeidSalt, terms...)
	if err != nil {
		return nil, err
	}
	scrubbed, summary := scrubber.Scrub(series)
	logger.Log.WithFields(map[string]interface{}{
		"records": summary.Records,
		"masked":  summary.Masked,
	}).Info("identifying text masked")
	return scrubbed, nil
}

// loadSeries reads a canonical table when the input starts with its header
// and parses an export otherwise.
func loadSeries(ctx context.Context, cfg *config.Config, path string) (models.Series, error) {
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	if body := bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")); canonical.HasHeader(body) {
		return canonical.Read(bytes.NewReader(body))
	}
	res, err := parser(cfg).Parse(ctx, raw)
	if err != nil {
		return nil, err
	}
	return res.Series, nil
}

func readInput(path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return storage.Decompress(storage.CompressionFor(path), raw)
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	packed, err := storage.Compress(storage.CompressionFor(path), data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, packed, 0o644)
}
