// Package cmd implements the medcollect command-line interface: the
// root command plus subcommands for running collections, inspecting
// sources, and scheduling recurring runs.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumen-medical/medcollect/cmd/schedule"
	"github.com/lumen-medical/medcollect/cmd/scrape"
	cmdsources "github.com/lumen-medical/medcollect/cmd/sources"
	"github.com/lumen-medical/medcollect/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug logging for all commands.
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "medcollect",
		Short: "Ethical medical data collector",
		Long: `medcollect collects medical training data from public sources
(PubMed, OpenFDA, DailyMed, RxNorm, ClinicalTrials.gov, DrugBank,
FDA guidance) with rate limiting, retry, and checkpoint/resume.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are visible to Viper.
	_ = godotenv.Load()

	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("medcollect version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(scrape.Command())
	rootCmd.AddCommand(cmdsources.Command())
	rootCmd.AddCommand(schedule.Command())
}

// initConfig reads the config file and environment variables.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// Config file is optional: defaults plus environment variables are a
	// complete configuration.
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config file not found: %v (using defaults)\n", err)
	}

	if err := bindFlags(); err != nil {
		return err
	}

	if err := bindEnvVars(); err != nil {
		return err
	}

	if Debug || viper.GetBool("app.debug") {
		viper.Set("logger.level", "debug")
		Debug = true
	}

	if viper.GetString("app.environment") == "development" {
		viper.Set("logger.development", true)
		viper.Set("logger.encoding", "console")
	}

	return nil
}

func bindFlags() error {
	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("bind debug flag: %w", err)
	}

	return nil
}

// bindEnvVars maps the environment variables operators actually set to
// their config keys; everything else goes through AutomaticEnv.
func bindEnvVars() error {
	bindings := map[string][]string{
		"app.environment":           {"APP_ENV"},
		"logger.level":              {"LOG_LEVEL"},
		"logger.encoding":           {"LOG_FORMAT"},
		"collector.output_dir":      {"COLLECTOR_OUTPUT_DIR"},
		"collector.user_agent":      {"COLLECTOR_USER_AGENT"},
		"sources.pubmed.api_key":    {"PUBMED_API_KEY", "NCBI_API_KEY"},
		"sources.pubmed.email":      {"PUBMED_EMAIL", "NCBI_EMAIL"},
		"sources.openfda.api_key":   {"OPENFDA_API_KEY"},
		"sources.drugbank.xml_path": {"DRUGBANK_XML_PATH"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := viper.BindEnv(args...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return nil
}

// setDefaults sets production-safe defaults; a bare `medcollect scrape`
// against these runs every source politely.
func setDefaults() {
	viper.SetDefault("app", map[string]any{
		"name":        "medcollect",
		"environment": "production",
		"debug":       false,
	})

	viper.SetDefault("logger", map[string]any{
		"level":        "info",
		"development":  false,
		"encoding":     "json",
		"output_paths": []string{"stdout"},
	})

	viper.SetDefault("collector", map[string]any{
		"output_dir":          config.DefaultOutputDir,
		"user_agent":          config.DefaultUserAgent,
		"requests_per_second": config.DefaultRequestsPerSecond,
		"max_retries":         config.DefaultMaxRetries,
		"request_timeout":     "30s",
		"retry_base_delay":    "2s",
		"batch_size":          config.DefaultBatchSize,
		"respect_robots_txt":  true,
		"dedup_db":            "data/raw/dedup.db",
	})

	viper.SetDefault("sources", map[string]any{
		"pubmed":         map[string]any{"enabled": true, "max_results": 1000},
		"openfda":        map[string]any{"enabled": true, "max_results": 10000},
		"dailymed":       map[string]any{"enabled": true, "max_results": 5000},
		"rxnorm":         map[string]any{"enabled": true},
		"clinicaltrials": map[string]any{"enabled": true, "max_results": 5000},
		"drugbank":       map[string]any{"enabled": false},
		"fda_guidance":   map[string]any{"enabled": true},
	})
}
