package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicelock/voicelock/cmd/voicelock/internal/config"
)

var (
	// Global flags
	verbose bool

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voicelock",
	Short: "Voice-based access control",
	Long: `voicelock - enroll voices and gate access with them.

Voiceprints live in a local badger database; nothing leaves the
machine. Set passphrase_env in the config to encrypt records at rest.

Examples:
  # Enroll alice from three recordings (16 kHz WAV)
  voicelock enroll alice one.wav two.wav three.wav

  # Verify a claimed identity
  voicelock verify alice probe.wav

  # Or find the best match among everyone enrolled
  voicelock identify probe.wav

  # Administer enrollments
  voicelock list
  voicelock history alice
  voicelock revoke alice`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// configLoadErr stores the error from config.Load() for deferred
// reporting, so commands that need no config (version) still run.
var configLoadErr error

func initConfig() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// getConfig returns the global configuration.
func getConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}
