package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tasks/backend/internal/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the SQLite schema and list its tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := sqlite.Open(cmd.Context(), cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()

		tables, err := db.Tables(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("schema applied", zap.String("path", cfg.Store.SQLitePath), zap.Strings("tables", tables))
		for _, name := range tables {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
