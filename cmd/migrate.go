package cmd

import (
	"context"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/lellostore/library/log"
)

var migrateCMD = &cobra.Command{
	Use:   "migrate",
	Short: "migrate",
	Long:  `apply pending catalog schema migrations and exit`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openCatalogDB(cmd.Context())
		if err != nil {
			log.Logger.Panic("migrate", zap.Error(err))
		}
		if err = db.Close(); err != nil {
			log.Logger.Warn("close database", zap.Error(err))
		}
		log.Logger.Info("migrations applied")
	},
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}
