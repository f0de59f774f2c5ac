package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/internal/app"
	"github.com/hr-platform/backend/internal/storage/sqldb"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
)

const cliName = "cvctl"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:           cliName,
		Short:         "cvctl operates the CV extraction pipeline: migrations, inspection, retries and the background worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if viper.GetBool("debug") {
				level = "debug"
			}
			format := "console"
			if viper.GetBool("json") {
				format = "json"
			}
			return logger.Init(level, format, "stderr")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./config, /etc/hr-platform)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("tenant", "", "tenant the command acts for")
	rootCmd.PersistentFlags().String("user", "cvctl", "user id recorded as the actor")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	viper.BindEnv("tenant", "CVCTL_TENANT")
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(cfgFile)
}

// operator is the HR-level principal the CLI acts as inside one tenant.
func operator() (access.Principal, error) {
	tenant := viper.GetString("tenant")
	if tenant == "" {
		return access.Principal{}, fmt.Errorf("--tenant (or CVCTL_TENANT) is required")
	}
	return access.NewPrincipal(viper.GetString("user"), tenant, string(access.RoleHR), "")
}

func openStore(ctx context.Context) (*sqldb.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := sqldb.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// no pool runs in a one-shot command; pending work is left to the worker
	a.Orchestrator.SetDispatcher(nil)
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
