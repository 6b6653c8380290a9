package commands

import (
	"context"
	"log/slog"

	"github.com/voicelock/voicelock/cmd/voicelock/internal/config"
	"github.com/voicelock/voicelock/pkg/attempt"
	"github.com/voicelock/voicelock/pkg/feature"
	"github.com/voicelock/voicelock/pkg/verify"
	"github.com/voicelock/voicelock/pkg/voiceprint"
	"github.com/voicelock/voicelock/pkg/wavio"
)

// env bundles the engine stack a command needs: the store, the
// extractor, the verification engine, and the attempt policy with its
// persisted counters.
type env struct {
	cfg       *config.Config
	store     *voiceprint.Badger
	extractor *feature.Extractor
	engine    *verify.Engine
	policy    *attempt.Policy
}

func openEnv() (*env, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	store, err := voiceprint.NewBadger(voiceprint.BadgerOptions{
		Dir:        dataDir,
		Passphrase: cfg.Passphrase(),
	})
	if err != nil {
		return nil, err
	}

	fcfg := feature.DefaultConfig()
	if cfg.Feature.SampleRate != 0 {
		fcfg.SampleRate = cfg.Feature.SampleRate
	}
	if cfg.Feature.NumMels != 0 {
		fcfg.NumMels = cfg.Feature.NumMels
	}
	extractor := feature.NewExtractor(fcfg)

	engine := verify.NewEngine(store, verify.Config{
		AcceptThreshold:   cfg.Verify.AcceptThreshold,
		LivenessThreshold: cfg.Verify.LivenessThreshold,
		Hysteresis:        cfg.Verify.Hysteresis,
		SeparationMargin:  cfg.Verify.SeparationMargin,
		MinEnrollSamples:  cfg.Enroll.MinSamples,
		MinQuality:        cfg.Enroll.MinQuality,
	})

	policy := attempt.New(attempt.Config{
		MaxFailures:              cfg.Attempt.MaxFailures,
		Window:                   cfg.Attempt.Window,
		BaseBackoff:              cfg.Attempt.BaseBackoff,
		MaxBackoff:               cfg.Attempt.MaxBackoff,
		AllowAcceptDuringLockout: cfg.Attempt.AllowAcceptDuringLockout,
	})
	if snap, err := store.AttemptState(context.Background()); err != nil {
		store.Close()
		return nil, err
	} else if snap != nil {
		if err := policy.Restore(snap); err != nil {
			slog.Warn("discarding unreadable attempt state", "err", err)
		}
	}

	return &env{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		engine:    engine,
		policy:    policy,
	}, nil
}

// close persists the attempt counters and releases the store.
func (e *env) close() {
	if snap, err := e.policy.Snapshot(); err == nil {
		if err := e.store.SaveAttemptState(context.Background(), snap); err != nil {
			slog.Warn("saving attempt state", "err", err)
		}
	}
	if err := e.store.Close(); err != nil {
		slog.Warn("closing store", "err", err)
	}
}

// loadPCM decodes one WAV file at the extractor's sample rate.
func (e *env) loadPCM(path string) ([]byte, error) {
	return wavio.DecodeFile(path, e.sampleRate())
}

func (e *env) sampleRate() int {
	if e.cfg.Feature.SampleRate != 0 {
		return e.cfg.Feature.SampleRate
	}
	return feature.DefaultConfig().SampleRate
}
