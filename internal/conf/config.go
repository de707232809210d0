// Package conf loads and validates looper-new settings via viper,
// following the Settings-struct-plus-viper-defaults shape of the
// teacher's internal/conf package.
package conf

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var embeddedDefaults embed.FS

// Settings is the root configuration object for the loop engine.
type Settings struct {
	Debug bool

	Transport TransportSettings
	Pitch     PitchSettings
	Recorder  RecorderSettings
	Track     TrackSettings
	Overdub   OverdubSettings
}

// TransportSettings configures the bar-alignment clock.
type TransportSettings struct {
	// BarEpsilonMS is the tolerance below which an elapsed bar offset is
	// treated as exactly zero (spec.md §4.1: "e < ε treated as 0").
	BarEpsilonMS float64
}

// PitchSettings configures the granular pitch engine and its worker pool.
type PitchSettings struct {
	GrainSize     int
	HopRatio      float64
	JobTimeoutMS  int
	MaxSemitones  float64
	PoolSizeHint  int // 0 = derive from hardware parallelism
}

// RecorderSettings configures capture timeouts and the recording lease.
type RecorderSettings struct {
	GlobalTimeoutMS  int
	LeaseHardExpiry  time.Duration
	MasterMaxSeconds float64
}

// TrackSettings configures per-track defaults.
type TrackSettings struct {
	UndoStackLimit int
}

// OverdubSettings configures the overdub mix policy and anti-feedback probe.
type OverdubSettings struct {
	AllowWrapOverdub         bool
	AutoMuteMonitorOnOverdub bool
	LoopbackRMSThreshold     float64
}

// Default returns the settings matching spec.md §6's documented defaults.
func Default() *Settings {
	return &Settings{
		Transport: TransportSettings{BarEpsilonMS: 1.0},
		Pitch: PitchSettings{
			GrainSize:    2048,
			HopRatio:     0.25,
			JobTimeoutMS: 45000,
			MaxSemitones: 12,
		},
		Recorder: RecorderSettings{
			GlobalTimeoutMS:  120000,
			LeaseHardExpiry:  120 * time.Second,
			MasterMaxSeconds: 60,
		},
		Track: TrackSettings{UndoStackLimit: 6},
		Overdub: OverdubSettings{
			AllowWrapOverdub:         false,
			AutoMuteMonitorOnOverdub: true,
			LoopbackRMSThreshold:     0.02,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("debug", d.Debug)

	v.SetDefault("transport.bar_epsilon_ms", d.Transport.BarEpsilonMS)

	v.SetDefault("pitch.grain_size", d.Pitch.GrainSize)
	v.SetDefault("pitch.hop_ratio", d.Pitch.HopRatio)
	v.SetDefault("pitch.job_timeout_ms", d.Pitch.JobTimeoutMS)
	v.SetDefault("pitch.max_semitones", d.Pitch.MaxSemitones)
	v.SetDefault("pitch.pool_size_hint", d.Pitch.PoolSizeHint)

	v.SetDefault("recorder.global_timeout_ms", d.Recorder.GlobalTimeoutMS)
	v.SetDefault("recorder.lease_hard_expiry", d.Recorder.LeaseHardExpiry.String())
	v.SetDefault("recorder.master_max_seconds", d.Recorder.MasterMaxSeconds)

	v.SetDefault("track.undo_stack_limit", d.Track.UndoStackLimit)

	v.SetDefault("overdub.allow_wrap_overdub", d.Overdub.AllowWrapOverdub)
	v.SetDefault("overdub.auto_mute_monitor_on_overdub", d.Overdub.AutoMuteMonitorOnOverdub)
	v.SetDefault("overdub.loopback_rms_threshold", d.Overdub.LoopbackRMSThreshold)
}

// Load reads settings from the named config file (if present), environment
// variables prefixed LOOPER_, and falls back to Default() values.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("LOOPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if raw, err := embeddedDefaults.ReadFile("config.yaml"); err == nil {
		v.SetConfigType("yaml")
		_ = v.MergeConfig(bytes.NewReader(raw))
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("conf: reading config file: %w", err)
			}
		}
	}

	leaseExpiry, err := time.ParseDuration(v.GetString("recorder.lease_hard_expiry"))
	if err != nil {
		leaseExpiry = Default().Recorder.LeaseHardExpiry
	}

	s := &Settings{
		Debug: v.GetBool("debug"),
		Transport: TransportSettings{
			BarEpsilonMS: v.GetFloat64("transport.bar_epsilon_ms"),
		},
		Pitch: PitchSettings{
			GrainSize:    v.GetInt("pitch.grain_size"),
			HopRatio:     v.GetFloat64("pitch.hop_ratio"),
			JobTimeoutMS: v.GetInt("pitch.job_timeout_ms"),
			MaxSemitones: v.GetFloat64("pitch.max_semitones"),
			PoolSizeHint: v.GetInt("pitch.pool_size_hint"),
		},
		Recorder: RecorderSettings{
			GlobalTimeoutMS:  v.GetInt("recorder.global_timeout_ms"),
			LeaseHardExpiry:  leaseExpiry,
			MasterMaxSeconds: v.GetFloat64("recorder.master_max_seconds"),
		},
		Track: TrackSettings{
			UndoStackLimit: v.GetInt("track.undo_stack_limit"),
		},
		Overdub: OverdubSettings{
			AllowWrapOverdub:         v.GetBool("overdub.allow_wrap_overdub"),
			AutoMuteMonitorOnOverdub: v.GetBool("overdub.auto_mute_monitor_on_overdub"),
			LoopbackRMSThreshold:     v.GetFloat64("overdub.loopback_rms_threshold"),
		},
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings invariants that the engine relies on.
func Validate(s *Settings) error {
	if s.Pitch.GrainSize <= 0 {
		return fmt.Errorf("conf: pitch.grain_size must be positive, got %d", s.Pitch.GrainSize)
	}
	if s.Pitch.HopRatio <= 0 || s.Pitch.HopRatio >= 1 {
		return fmt.Errorf("conf: pitch.hop_ratio must be in (0,1), got %f", s.Pitch.HopRatio)
	}
	if s.Track.UndoStackLimit <= 0 {
		return fmt.Errorf("conf: track.undo_stack_limit must be positive, got %d", s.Track.UndoStackLimit)
	}
	if s.Recorder.LeaseHardExpiry < 120*time.Second {
		return fmt.Errorf("conf: recorder.lease_hard_expiry must be >= 120s, got %s", s.Recorder.LeaseHardExpiry)
	}
	return nil
}
