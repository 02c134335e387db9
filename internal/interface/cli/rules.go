package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lfmcagency/fitness-tracker-sub001/config"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the XP rules and achievement catalog",
	}
	cmd.AddCommand(newRulesDumpCmd(), newRulesValidateCmd())
	return cmd
}

func newRulesDumpCmd() *cobra.Command {
	var catalog bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective tuning as TOML, or the catalog as YAML",
		Long: `Print the effective engine constants (defaults overlaid with
ENGINE_RULES_FILE) as TOML. With --catalog, print the effective achievement
catalog (ENGINE_CATALOG_FILE or the compiled-in one) as YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if catalog {
				cat, err := config.LoadCatalog(cfg.Engine.CatalogFile)
				if err != nil {
					return err
				}
				return config.WriteCatalog(cmd.OutOrStdout(), cat)
			}
			tuning, err := config.LoadTuning(cfg.Engine.RulesFile)
			if err != nil {
				return err
			}
			return config.WriteTuning(cmd.OutOrStdout(), tuning)
		},
	}
	cmd.Flags().BoolVar(&catalog, "catalog", false, "Dump the achievement catalog instead of the tuning")
	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules.toml] [catalog.yaml]",
		Short: "Validate a tuning file and an achievement catalog",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rulesFile, catalogFile string
			if len(args) > 0 {
				rulesFile = args[0]
			}
			if len(args) > 1 {
				catalogFile = args[1]
			}

			tuning, err := config.LoadTuning(rulesFile)
			if err != nil {
				return err
			}
			if _, err := xprules.NewCalculator(tuning.XP); err != nil {
				return err
			}
			cat, err := config.LoadCatalog(catalogFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d sources, catalog %s with %d achievements\n",
				len(tuning.XP.Sources), cat.Version(), cat.Len())
			return nil
		},
	}
}
