package looperd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Surajmusicproductions/looper-new/internal/audio"
	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/logging"
	"github.com/Surajmusicproductions/looper-new/internal/recorder"
)

func exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "capture the default microphone input (not the master bus) for a fixed duration and write it to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, settingsFrom(cmd))
		},
	}

	cmd.Flags().String("out", "export.wav", "output WAV file path")
	cmd.Flags().Int("duration-ms", 4000, "capture duration in milliseconds")
	cmd.Flags().Int("sample-rate", 44100, "capture sample rate in Hz")
	cmd.Flags().Int("channels", 1, "capture channel count")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "error binding export flags: %v\n", err)
	}
	return cmd
}

func runExport(cmd *cobra.Command, cfg *conf.Settings) error {
	log := logging.ForService("looperd")

	outPath := viper.GetString("out")
	durationMS := viper.GetInt("duration-ms")
	sampleRate := viper.GetInt("sample-rate")
	channels := viper.GetInt("channels")

	lease := recorder.NewLease(cfg.Recorder.LeaseHardExpiry, nil)
	globalTimeout := time.Duration(cfg.Recorder.GlobalTimeoutMS) * time.Millisecond
	mixRec := recorder.New(recorder.MalgoMicSource{SampleRate: sampleRate, Channels: channels}, lease, globalTimeout)

	result := make(chan *audio.Buffer, 1)
	captureErr := make(chan error, 1)

	h, err := mixRec.Start(context.Background(), durationMS,
		nil,
		func(buf *audio.Buffer) { result <- buf },
		func(err error) { captureErr <- err },
	)
	if err != nil {
		return fmt.Errorf("looperd export: starting capture: %w", err)
	}

	go func() {
		time.Sleep(time.Duration(durationMS) * time.Millisecond)
		h.Stop()
	}()

	select {
	case buf := <-result:
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("looperd export: creating %s: %w", outPath, err)
		}
		defer f.Close()

		if err := audio.WAVEncoder().Encode(f, buf); err != nil {
			return fmt.Errorf("looperd export: encoding WAV: %w", err)
		}
		log.Info("export complete", "path", outPath, "duration", buf.Duration())
		return nil
	case err := <-captureErr:
		return fmt.Errorf("looperd export: capture failed: %w", err)
	case <-time.After(globalTimeout + 5*time.Second):
		return fmt.Errorf("looperd export: capture timed out")
	}
}
