package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

func newEvaluateCommand() *cobra.Command {
	var (
		tenantID string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one tenant (or every tenant) once and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			tenants, err := a.tenants(ctx, tenantID, all)
			if err != nil {
				return err
			}

			reports := make([]*model.TenantReport, 0, len(tenants))
			for _, tenant := range tenants {
				report, err := a.engine.EvaluateTenant(ctx, tenant)
				if err != nil {
					logger.Error("Tenant evaluation failed", zap.String("tenant_id", tenant), zap.Error(err))
					continue
				}
				reports = append(reports, report)
			}

			out, err := json.MarshalIndent(reports, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode reports: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to evaluate")
	cmd.Flags().BoolVar(&all, "all", false, "evaluate every tenant with enabled rules")
	cmd.MarkFlagsMutuallyExclusive("tenant", "all")
	return cmd
}
