package looperd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Surajmusicproductions/looper-new/internal/conf"
	"github.com/Surajmusicproductions/looper-new/internal/events"
	"github.com/Surajmusicproductions/looper-new/internal/logging"
	"github.com/Surajmusicproductions/looper-new/internal/metrics"
	"github.com/Surajmusicproductions/looper-new/internal/pitch"
	"github.com/Surajmusicproductions/looper-new/internal/recorder"
	"github.com/Surajmusicproductions/looper-new/internal/session"
	"github.com/Surajmusicproductions/looper-new/internal/transport"
)

// defaultHTTPAddr is where /status (always) and /metrics (with
// --metrics) are served; the looperd status subcommand talks to it.
const defaultHTTPAddr = ":9090"

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the loop engine against the default microphone",
		Long:  "Start the Session Coordinator wired to a live microphone source and read track commands from stdin until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, settingsFrom(cmd))
		},
	}

	cmd.Flags().Int("sample-rate", 44100, "capture sample rate in Hz")
	cmd.Flags().Int("channels", 1, "capture channel count")
	cmd.Flags().Bool("metrics", false, "also expose Prometheus metrics on --http-addr")
	cmd.Flags().String("http-addr", defaultHTTPAddr, "address to serve /status (and /metrics, if enabled) on")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "error binding serve flags: %v\n", err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, cfg *conf.Settings) error {
	log := logging.ForService("looperd")

	// Read from this command's own flags: export binds the same flag
	// names into viper, so viper.GetInt would return export's values.
	sampleRate, _ := cmd.Flags().GetInt("sample-rate")
	channels, _ := cmd.Flags().GetInt("channels")
	micSource := recorder.MalgoMicSource{SampleRate: sampleRate, Channels: channels}

	lease := recorder.NewLease(cfg.Recorder.LeaseHardExpiry, nil)
	globalTimeout := time.Duration(cfg.Recorder.GlobalTimeoutMS) * time.Millisecond
	rec := recorder.New(micSource, lease, globalTimeout)
	mixRec := recorder.New(micSource, lease, globalTimeout)

	var reg *prometheus.Registry
	enableMetrics := viper.GetBool("metrics")
	if enableMetrics {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(enableMetrics, reg)

	engine := pitch.NewEngine(cfg.Pitch, m)
	defer engine.Close()

	clockSource := transport.New(transport.RealClock{}, cfg.Transport.BarEpsilonMS/1000)

	sess := session.New(cfg, rec, mixRec, micSource, engine, clockSource, log, m)
	defer sess.Close()

	addr := viper.GetString("http-addr")
	mux := http.NewServeMux()
	mux.HandleFunc("/status", statusHandler(sess))
	if enableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logEvents(ctx, sess, log)

	log.Info("looperd serving", "sample_rate", sampleRate, "channels", channels, "http_addr", addr)
	fmt.Println("looperd ready. commands: press <track>, stop <track>, clear <track>, setdivider <track> <d>, undo <track>, pitch <track> <semitones>, monitor, mixstart <ms>, mixstop, status, quit")

	return runCommandLoop(ctx, sess)
}

// statusResponse is the JSON shape served on /status and consumed by
// the looperd status subcommand (spec.md §6 status query surface).
type statusResponse struct {
	Tracks    [4]session.TrackSnapshot `json:"tracks"`
	Transport transport.State          `json:"transport"`
}

func statusHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracks, transportState := sess.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusResponse{Tracks: tracks, Transport: transportState})
	}
}

func logEvents(ctx context.Context, sess *session.Session, log interface {
	Info(string, ...any)
	Error(string, ...any)
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sess.Events():
			if !ok {
				return
			}
			switch e.Kind {
			case events.KindError:
				log.Error("session error", "track", e.Track, "err", e.Err)
			case events.KindTrackProgress:
				// High-frequency playhead telemetry; meant for a UI
				// subscriber, not the log stream.
			default:
				log.Info("session event", "kind", e.Kind, "track", e.Track, "state", e.State)
			}
		}
	}
}

func runCommandLoop(ctx context.Context, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			dispatchCommand(sess, line)
		}
	}
}

func dispatchCommand(sess *session.Session, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "press":
		err = withTrack(fields, func(track int) error { return sess.Press(track) })
	case "stop":
		err = withTrack(fields, func(track int) error { return sess.Stop(track) })
	case "clear":
		err = withTrack(fields, func(track int) error { return sess.Clear(track) })
	case "undo":
		err = withTrack(fields, func(track int) error { return sess.Undo(track) })
	case "setdivider":
		err = withTrackAndInt(fields, sess.SetDivider)
	case "pitch":
		err = withTrackAndFloat(fields, sess.RequestPitchShift)
	case "monitor":
		sess.ToggleMonitor()
	case "mixstart":
		ms := 4000
		if len(fields) > 1 {
			if v, parseErr := strconv.Atoi(fields[1]); parseErr == nil {
				ms = v
			}
		}
		err = sess.StartMixRecord(ms)
	case "mixstop":
		sess.StopMixRecord()
	case "status":
		printStatus(sess)
	case "quit", "exit":
		os.Exit(0)
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
		return
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printStatus(sess *session.Session) {
	tracks, transportState := sess.Snapshot()
	fmt.Printf("master: set=%v duration=%.3fs bpm=%d\n", transportState.MasterIsSet, transportState.MasterDuration, transportState.MasterBPM)
	for _, tr := range tracks {
		fmt.Printf("  track %d: state=%s duration=%.3fs divider=%d effects=%d\n", tr.Index, tr.State, tr.LoopDuration, tr.Divider, tr.EffectCount)
	}
}

func withTrack(fields []string, fn func(int) error) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s <track>", fields[0])
	}
	track, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("invalid track %q", fields[1])
	}
	return fn(track)
}

func withTrackAndInt(fields []string, fn func(int, int) error) error {
	if len(fields) < 3 {
		return fmt.Errorf("usage: %s <track> <value>", fields[0])
	}
	track, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("invalid track %q", fields[1])
	}
	value, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("invalid value %q", fields[2])
	}
	return fn(track, value)
}

func withTrackAndFloat(fields []string, fn func(int, float64) error) error {
	if len(fields) < 3 {
		return fmt.Errorf("usage: %s <track> <value>", fields[0])
	}
	track, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("invalid track %q", fields[1])
	}
	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", fields[2])
	}
	return fn(track, value)
}
