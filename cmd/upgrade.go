package cmd

import (
	"context"
	"fmt"
	"os"

	internalApp "github.com/haierkeys/fast-content-sync-service/internal/app"
	"github.com/haierkeys/fast-content-sync-service/internal/dao"
	"github.com/haierkeys/fast-content-sync-service/internal/model"
	"github.com/haierkeys/fast-content-sync-service/internal/upgrade"
	"github.com/haierkeys/fast-content-sync-service/pkg/logger"
	"github.com/spf13/cobra"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the server database schema and data to the latest version",
	Long: `Upgrade the server database schema and data to the latest version.

This command migrates the tables and applies all pending data migrations.
It is safe to run this command multiple times - already applied migrations will be skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		configPath, err := resolveConfig(configPath)
		if err != nil {
			fmt.Printf("Failed to resolve config: %v\n", err)
			os.Exit(1)
		}

		appConfig, configRealpath, err := internalApp.LoadConfig(configPath)
		if err != nil {
			fmt.Printf("Failed to load config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Loading config from: %s\n", configRealpath)

		lg, err := logger.NewLogger(appConfig.Log.LoggerConfig())
		if err != nil {
			fmt.Printf("Failed to init logger: %v\n", err)
			os.Exit(1)
		}

		db, err := dao.NewDBEngine(appConfig.Database, lg)
		if err != nil {
			fmt.Printf("Failed to init database: %v\n", err)
			os.Exit(1)
		}
		defer dao.Close(db)

		fmt.Println("Starting database upgrade...")

		for _, key := range model.ServerKeys() {
			if err := model.AutoMigrate(db, key); err != nil {
				fmt.Printf("Schema migration of %s failed: %v\n", key, err)
				os.Exit(1)
			}
		}

		n, err := upgrade.NewMigrationManager(db, lg, internalApp.Version, referenceVersionFile).Run(context.Background())
		if err != nil {
			fmt.Printf("Upgrade failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Database upgrade completed successfully! (%d migrations applied)\n", n)
	},
}

func init() {
	rootCmd.AddCommand(upgradeCmd)
	upgradeCmd.Flags().StringP("config", "c", "", "config file path")
}
