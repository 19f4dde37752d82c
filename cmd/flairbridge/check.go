package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/flairbridge/internal/rate"
	"github.com/joshp123/flairbridge/plugins/flair"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and verify the Flair credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("config ok: %s\n", cfg.Flair.BaseURL)

		manager, err := flair.OAuthManager(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		httpClient := rate.WrapHTTP(flair.RateLimit(cfg.Flair), &http.Client{Timeout: 20 * time.Second})
		client := flair.NewClient(cfg.Flair.BaseURL, manager, httpClient, cfg.Flair.StructureID)
		if err := client.CheckCredentials(ctx); err != nil {
			return fmt.Errorf("credentials rejected: %w", err)
		}
		st, err := client.PrimaryStructure(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("credentials ok: structure %s (%s), mode %s, %s\n", st.Name, st.ID, st.Mode, st.StructureHeatCoolMode)
		return nil
	},
}
