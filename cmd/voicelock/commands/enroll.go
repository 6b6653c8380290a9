package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicelock/voicelock/pkg/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity> <sample.wav> [sample.wav ...]",
	Short: "Enroll an identity from WAV samples",
	Long: `Enroll an identity from voice samples.

Each sample must be a WAV recording at the extractor sample rate
(16 kHz by default), at least 300ms of actual speech. At least three
samples that pass the quality gate are required; low-quality samples
are reported and skipped, not fatal.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, samples := args[0], args[1:]

		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		mgr := enroll.NewManager(env.store, env.extractor.Version(), enroll.Config{
			MinSamples: env.cfg.Enroll.MinSamples,
			MinQuality: env.cfg.Enroll.MinQuality,
			MinSNR:     env.cfg.Enroll.MinSNR,
		})
		defer mgr.Close()

		session, err := mgr.Start(identity)
		if err != nil {
			return err
		}

		for _, path := range samples {
			pcm, err := env.loadPCM(path)
			if err != nil {
				mgr.Abort(session)
				return err
			}
			vec, err := env.extractor.Extract(pcm)
			if err != nil {
				fmt.Printf("  %s: skipped (%v)\n", path, err)
				continue
			}
			if _, err := mgr.Submit(session, vec); err != nil {
				if errors.Is(err, enroll.ErrLowQuality) {
					fmt.Printf("  %s: skipped (low quality, SNR %.1f dB)\n", path, vec.Stats.SNR)
					continue
				}
				mgr.Abort(session)
				return err
			}
			fmt.Printf("  %s: accepted\n", path)
		}

		vp, err := mgr.Commit(cmd.Context(), session)
		if err != nil {
			mgr.Abort(session)
			if errors.Is(err, enroll.ErrNotReady) {
				return fmt.Errorf("%w: only %d sample(s) accepted", err, session.Accepted())
			}
			return err
		}

		fmt.Printf("enrolled %s (version %d, quality %.2f, %d samples)\n",
			vp.Identity, vp.Version, vp.Quality, vp.SampleCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
