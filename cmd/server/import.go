package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newImportCommand() *cobra.Command {
	var (
		tenantID string
		file     string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import rules for a tenant from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			imported, err := a.rules.Import(cmd.Context(), tenantID, data)
			if err != nil {
				return err
			}
			for _, rule := range imported {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rule.ID, rule.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules for tenant %s\n", len(imported), tenantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant owning the rules")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with the rules")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
