package cmd

import (
	"context"
	"fmt"
	"os"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/lellostore/library/config"
	"github.com/Laisky/lellostore/library/log"
)

var rootCMD = &cobra.Command{
	Use:   "lellostore",
	Short: "lellostore",
	Long:  `private distribution server for Android APK/AAB builds`,
	Args:  gcmd.NoExtraArgs,
}

func initialize(ctx context.Context, cmd *cobra.Command) error {
	if err := gconfig.Shared.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "bind pflags")
	}

	if err := setupSettings(ctx); err != nil {
		return errors.Wrap(err, "setup settings")
	}
	setupLogger(ctx)

	if err := validateStartupConfig(); err != nil {
		return errors.Wrap(err, "validate config")
	}

	return nil
}

func setupSettings(_ context.Context) error {
	// mode
	if gconfig.Shared.GetBool("debug") {
		fmt.Println("run in debug mode")
		gconfig.Shared.Set("log-level", "debug")
	} else { // prod mode
		fmt.Println("run in prod mode")
	}

	if err := config.LoadDotEnv(gconfig.Shared.GetString("env-file")); err != nil {
		return errors.WithStack(err)
	}
	config.LoadFromFile(gconfig.Shared.GetString("config"))

	// environment wins over file and flags
	if keys := config.ApplyEnvOverrides(os.LookupEnv); len(keys) != 0 {
		log.Logger.Info("apply environment overrides", zap.Strings("keys", keys))
	}

	return nil
}

func setupLogger(_ context.Context) {
	lvl := gconfig.Shared.GetString("log-level")
	if err := log.Logger.ChangeLevel(glog.Level(lvl)); err != nil {
		log.Logger.Panic("change log level", zap.Error(err), zap.String("level", lvl))
	}
}

func init() {
	rootCMD.PersistentFlags().Bool("debug", false, "run in debug mode")
	rootCMD.PersistentFlags().String("listen", "127.0.0.1:8080", "api address, like `127.0.0.1:8080`")
	rootCMD.PersistentFlags().String("metrics-listen", "127.0.0.1:9091", "metrics address, like `127.0.0.1:9091`")
	rootCMD.PersistentFlags().StringP("config", "c", "/etc/lellostore/settings.yml", "config file path")
	rootCMD.PersistentFlags().String("env-file", ".env", "optional dotenv file")
	rootCMD.PersistentFlags().String("log-level", "info", "`debug/info/error`")
}

// Execute execute root command
func Execute() {
	if err := rootCMD.Execute(); err != nil {
		glog.Shared.Panic("start", zap.Error(err))
	}
}
