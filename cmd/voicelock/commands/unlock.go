package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicelock/voicelock/pkg/attempt"
	"github.com/voicelock/voicelock/pkg/lock"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <identity> <sample.wav> [sample.wav ...]",
	Short: "Run utterances through the lock state machine",
	Long: `Drive the lock controller through a full unlock attempt.

Each sample is one attempt: the lock arms, runs the utterance through
extraction, verification and the attempt policy, then transitions.
Pass "-" as the identity to identify by best match instead of claiming
one. The command stops at the first Unlocked or LockedOut state and
prints every transition along the way.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		claimed, samples := args[0], args[1:]
		if claimed == "-" {
			claimed = ""
		}

		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		ctrl := lock.New(env.extractor, env.engine, env.policy,
			lock.Config{UnlockHold: env.cfg.Lock.UnlockHold},
			lock.WithActuator(func(tr lock.Transition) {
				fmt.Printf("  %s -> %s\n", tr.From, tr.To)
			}))
		defer ctrl.Close()

		for _, path := range samples {
			pcm, err := env.loadPCM(path)
			if err != nil {
				return err
			}
			if err := ctrl.RequestUnlock(cmd.Context()); err != nil {
				return err
			}
			att, err := ctrl.SubmitUtterance(cmd.Context(), claimed, pcm)
			if err != nil {
				if errors.Is(err, attempt.ErrLockedOut) {
					return err
				}
				// Extraction or verification failure: not a counted
				// attempt, re-lock and move to the next sample.
				fmt.Printf("  %s: %v\n", path, err)
				if cerr := ctrl.Cancel(); cerr != nil {
					return cerr
				}
				continue
			}
			printAttempt(att)
			switch ctrl.State() {
			case lock.StateUnlocked:
				fmt.Println("unlocked")
				return nil
			case lock.StateLockedOut:
				return attempt.ErrLockedOut
			}
		}
		return errors.New("lock stayed locked")
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
