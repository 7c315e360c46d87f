package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leilaodata/harvester/internal/model"
	"github.com/leilaodata/harvester/internal/store"
)

var discoverAll bool

var discoverCmd = &cobra.Command{
	Use:   "discover <source-id>",
	Short: "Force structure discovery for one source, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !discoverAll && len(args) == 0 {
			return eris.New("provide a source id or --all")
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		var targets []model.Source
		if discoverAll {
			targets, err = st.ListSources(ctx)
			if err != nil {
				return err
			}
		} else {
			src, err := st.GetSource(ctx, args[0])
			if err != nil {
				return err
			}
			targets = []model.Source{*src}
		}

		h := buildHarvester()
		defer h.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		failed := 0
		for i := range targets {
			src := &targets[i]
			cfg, err := discoverOne(cmd, st, h, src)
			if err != nil {
				if !discoverAll {
					return err
				}
				failed++
				zap.L().Error("discovery failed",
					zap.String("source_id", src.ID),
					zap.String("name", src.Name),
					zap.Error(err))
				continue
			}
			if err := enc.Encode(cfg); err != nil {
				return err
			}
		}
		if failed > 0 {
			return eris.Errorf("discovery failed for %d of %d sources", failed, len(targets))
		}
		return nil
	},
}

func discoverOne(cmd *cobra.Command, st store.Store, h *harvester, src *model.Source) (*model.ScrapeConfig, error) {
	ctx := cmd.Context()

	cfg, err := h.discovery.Discover(ctx, src)
	if err != nil {
		if serr := st.UpdateDiscoveryStatus(ctx, src.ID, model.DiscoveryFailed); serr != nil {
			zap.L().Warn("failed to mark discovery failed", zap.Error(serr))
		}
		return nil, err
	}
	if err := st.SaveScrapeConfig(ctx, src.ID, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverAll, "all", false, "rediscover every registered source")
	rootCmd.AddCommand(discoverCmd)
}
