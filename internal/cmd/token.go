package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/genai-studio/edge-proxy/internal/config"
	"github.com/genai-studio/edge-proxy/internal/token"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an upstream token from the configured API key",
	Long: `Mint prints a token signed with the configured upstream API key, as the
proxy would attach it to an upstream request. Useful for checking a key by
hand with curl.`,
	RunE: runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "edgeproxy %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Upstream.APIKey == "" {
		return errors.New("API key not configured")
	}

	tok, err := token.NewMinter().Mint(cfg.Upstream.APIKey)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Key ID:  %s\n", token.MaskID(cfg.Upstream.APIKey))
	fmt.Fprintf(out, "Expires: %s\n", tok.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintln(out, tok.Value)
	return nil
}
