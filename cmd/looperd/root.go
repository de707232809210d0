// Package looperd implements the looperd CLI: a cobra root command
// wiring the loop engine's Session Coordinator to a real microphone
// source, modeled on the teacher's cmd/root.go + per-subcommand
// Command(ctx) shape (cmd/realtime/realtime.go).
package looperd

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/logging"
)

var configPath string

// RootCommand builds the looperd root command and its subcommands.
func RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "looperd",
		Short: "looperd — a four-track phase-locked audio looper engine",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (overrides embedded defaults)")
	root.PersistentFlags().Bool("debug", false, "enable debug-level logging")
	if err := viper.BindPFlag("debug", root.PersistentFlags().Lookup("debug")); err != nil {
		log.Printf("error binding debug flag: %v\n", err)
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := conf.Load(configPath)
		if err != nil {
			return fmt.Errorf("looperd: loading configuration: %w", err)
		}
		if viper.GetBool("debug") {
			settings.Debug = true
		}

		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		logging.Init(logging.Config{Dir: "logs", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28, Level: level})

		cmd.SetContext(withSettings(cmd.Context(), settings))
		return nil
	}

	root.AddCommand(serveCommand(), exportCommand(), statusCommand())
	return root
}
