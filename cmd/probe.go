package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/websmartco/smartchat/internal/completion"
	"github.com/websmartco/smartchat/internal/config"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check upstream API connectivity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		client := completion.New(completion.Config{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.ModelName,
			ProbeTimeout: time.Duration(cfg.ProbeTimeout) * time.Second,
		}, newLogger())

		if err := client.Probe(cmd.Context()); err != nil {
			return fmt.Errorf("upstream unreachable: %w", err)
		}
		fmt.Println("upstream OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
