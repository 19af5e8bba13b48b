package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/pmemstream-go/pkg/config"
	"github.com/marmos91/pmemstream-go/pkg/pmemstream"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Format a new backing file for a stream",
	Long: `Create and format the backing file described by --config (or its
defaults) as a fresh, empty stream.

Examples:
  # Format stream.pmem with the defaults
  pmemstream init

  # Format the stream described by a config file
  pmemstream init --config /etc/pmemstream.yaml`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := pmemstream.Open(cfg.Stream.Path, cfg.StreamOptions())
	if err != nil {
		return fmt.Errorf("formatting %s: %w", cfg.Stream.Path, err)
	}
	defer s.Close()

	fmt.Printf("Formatted stream at %s (%s, block size %s)\n",
		cfg.Stream.Path, cfg.Stream.StreamSize, cfg.Stream.BlockSize)
	return nil
}
