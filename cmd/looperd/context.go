package looperd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Surajmusicproductions/looper-new/internal/conf"
)

type settingsKey struct{}

func withSettings(ctx context.Context, s *conf.Settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

func settingsFrom(cmd *cobra.Command) *conf.Settings {
	s, _ := cmd.Context().Value(settingsKey{}).(*conf.Settings)
	if s == nil {
		s = conf.Default()
	}
	return s
}
