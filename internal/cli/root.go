// Package cli implements the factsctl command tree. Commands operate
// directly on the project database; the HTTP daemon is not required.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joelkehle/projectfacts/internal/consolidate"
	"github.com/joelkehle/projectfacts/internal/geocode"
	"github.com/joelkehle/projectfacts/internal/llm"
	"github.com/joelkehle/projectfacts/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "factsctl",
	Short: "Manage per-project document knowledge bases",
	Long: `factsctl ingests project documents into a fact store, runs the
consolidation pipeline, and manages the conflict ledger.

Extraction and reconciliation call the Anthropic API; set
ANTHROPIC_API_KEY before running ingest or consolidate.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.projectfacts/config.yaml)")
	rootCmd.PersistentFlags().String("db", "./data/facts.db", "path to SQLite database file")
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(IngestCmd())
	rootCmd.AddCommand(ConsolidateCmd())
	rootCmd.AddCommand(ConflictsCmd())
	rootCmd.AddCommand(FactsCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.projectfacts")
			viper.SetConfigType("yaml")
			viper.SetConfigName("config")
		}
	}

	viper.SetEnvPrefix("FACTS")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func openStore() (*store.SQLiteStore, error) {
	path := viper.GetString("db")
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return s, nil
}

func newCaller() (llm.Caller, error) {
	rps := viper.GetFloat64("llm_rps")
	if rps <= 0 {
		rps = 1.0
	}
	return llm.NewAnthropicCallerFromEnv(rps)
}

func newGeocoder() consolidate.Geocoder {
	base := viper.GetString("geocode_url")
	if base == "" {
		return nil
	}
	return geocode.NewClient(base)
}
