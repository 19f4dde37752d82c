package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/flairbridge/plugins/flair"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the password grant and persist the OAuth refresh state",
	Long: `login exchanges flair.username and flair.password for a refresh token and
writes it to oauth.state_path, mirroring it to the configured blob store.
After a successful login the password can be removed from the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		manager, err := flair.OAuthManager(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := manager.Login(ctx); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Printf("oauth state written to %s\n", cfg.OAuth.StatePath)
		if cfg.OAuth.Blob.Enabled() {
			fmt.Printf("mirrored to s3://%s/%s\n", cfg.OAuth.Blob.Bucket, cfg.OAuth.Blob.Prefix)
		}
		return nil
	},
}
