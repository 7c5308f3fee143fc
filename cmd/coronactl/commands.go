package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/corona-data-etl/internal/adapter/feed"
	"github.com/couchcryptid/corona-data-etl/internal/config"
	"github.com/couchcryptid/corona-data-etl/internal/domain"
	"github.com/couchcryptid/corona-data-etl/internal/observability"
	"github.com/couchcryptid/corona-data-etl/internal/pipeline"
	"github.com/couchcryptid/corona-data-etl/internal/source"
)

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "coronactl",
		Short:        "Fetch, normalize and inspect epidemiological time series",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	root.AddCommand(
		newLoadCmd(opts),
		newTopCmd(opts),
		newRangeCmd(opts),
		newValidateCmd(),
	)
	return root
}

// loadDataset runs one pipeline invocation against the configured feeds.
func loadDataset(cmd *cobra.Command, opts *rootOptions) (domain.Dataset, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.LogFormat = "text"
	cfg.LogLevel = "warn"
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	logger := observability.NewLoggerTo(cmd.ErrOrStderr(), cfg)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())

	client := feed.NewClient(cfg.FetchTimeout, cfg.MaxBodyBytes, logger)
	loader := pipeline.NewLoader(cfg.Sources(), client, logger, metrics)

	ds, _, err := loader.Load(cmd.Context())
	return ds, err
}

func newLoadCmd(opts *rootOptions) *cobra.Command {
	var (
		out      string
		places   []string
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run the pipeline once and print the dataset as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromDate, err := optionalDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toDate, err := optionalDate(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			ds, err := loadDataset(cmd, opts)
			if err != nil {
				return err
			}
			if len(places) > 0 {
				ds = ds.Select(places...)
			}
			if !fromDate.IsZero() || !toDate.IsZero() {
				ds = ds.Window(fromDate, toDate)
			}

			if out != "" {
				return writeDatasetFile(out, ds)
			}
			return writeIndentedJSON(cmd.OutOrStdout(), ds)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the dataset to this file instead of stdout")
	cmd.Flags().StringSliceVar(&places, "place", nil, "only include these places (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "first day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day to include, YYYY-MM-DD")
	return cmd
}

func newTopCmd(opts *rootOptions) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the places with the most deaths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if n < 0 {
				return errors.New("--limit must not be negative")
			}
			ds, err := loadDataset(cmd, opts)
			if err != nil {
				return err
			}
			ranked := domain.SortByDeaths(ds)
			ranked = ranked[:min(n, len(ranked))]

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tPLACE\tDEATHS")
			for i, r := range ranked {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", i+1, r.Place, r.Deaths)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "number of places to list")
	return cmd
}

func newRangeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "range",
		Short: "Print the first and last day covered by the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := loadDataset(cmd, opts)
			if err != nil {
				return err
			}
			rng, ok := domain.DateRange(ds)
			if !ok {
				return errors.New("dataset has no entries")
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d days\n",
				domain.FormatDate(domain.DateISO, rng.Start),
				domain.FormatDate(domain.DateISO, rng.End),
				rng.Days())
			return err
		},
	}
}

func newValidateCmd() *cobra.Command {
	var kind, dateFormat string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Decode a local feed file and report every violation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := domain.ParseDateLayout(dateFormat)
			if err != nil {
				return fmt.Errorf("--date-format: %w", err)
			}
			src := source.Source{Name: args[0], Kind: source.Kind(kind), DateLayout: layout}
			switch src.Kind {
			case source.KindCountries, source.KindStates, source.KindCounties:
			default:
				return errors.New("--kind must be one of countries, states, counties")
			}

			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			data, err := src.Decode(payload)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), err)
				return fmt.Errorf("%s does not decode as %s", args[0], kind)
			}

			entries := 0
			for _, e := range data {
				entries += len(e)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d places, %d entries\n", len(data), entries)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "feed kind: countries, states or counties")
	cmd.Flags().StringVar(&dateFormat, "date-format", "iso", "date layout: iso (service default) or flexible")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func writeDatasetFile(path string, ds domain.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeIndentedJSON(f, ds); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return domain.DecodeDate(domain.DateISO, s)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
