package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/leilaodata/harvester/internal/pipeline"
	"github.com/leilaodata/harvester/pkg/geocode"
)

var (
	runLimit         int
	runSkipGeocoding bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process all due sources and print the run summary as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		h := buildHarvester()
		defer h.Close()

		opts := []pipeline.Option{
			pipeline.WithConcurrency(cfg.Pipeline.MaxConcurrentSources),
			pipeline.WithSourceTimeout(time.Duration(cfg.Pipeline.SourceTimeoutSecs) * time.Second),
		}
		if !runSkipGeocoding {
			nominatim := geocode.NewNominatimClient(cfg.Geocode.UserAgent,
				geocode.WithNominatimBaseURL(cfg.Geocode.BaseURL))
			opts = append(opts, pipeline.WithGeocoder(geocode.NewCachedClient(nominatim, st)))
		}

		orch := pipeline.NewOrchestrator(st, h.gateway, h.discovery, h.engine, opts...)
		summary, err := orch.Run(ctx, pipeline.Options{
			Limit:         runLimit,
			SkipGeocoding: runSkipGeocoding,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max sources to process (0 = all)")
	runCmd.Flags().BoolVar(&runSkipGeocoding, "skip-geocoding", false, "skip the geocoding stage")
	rootCmd.AddCommand(runCmd)
}
