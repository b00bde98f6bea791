package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Lechros/chatda/internal/adapter"
	"github.com/Lechros/chatda/internal/config"
)

func newClassifyCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "classify URL...",
		Short: "Print the page context the overlay derives for each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c := adapter.Classifier{ListingURL: cfg.Site.ListingURL, DetailPrefix: cfg.Site.DetailPrefix}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, u := range args {
				if err := enc.Encode(c.Classify(u)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file with site settings (defaults when empty)")
	return cmd
}

// loadConfig falls back to built-in defaults when no path is given.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
