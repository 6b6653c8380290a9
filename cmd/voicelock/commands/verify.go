package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicelock/voicelock/pkg/attempt"
	"github.com/voicelock/voicelock/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <identity> <sample.wav>",
	Short: "Verify a claimed identity against one utterance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, args[0], args[1])
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify <sample.wav>",
	Short: "Identify the best-matching enrolled identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd, "", args[0])
	},
}

func runVerify(cmd *cobra.Command, claimed, path string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	// An empty claim (identify mode) checks the shared unknown bucket.
	if locked, remaining := env.policy.IsLockedOut(claimed); locked {
		return fmt.Errorf("%w (retry in %s)", attempt.ErrLockedOut, remaining.Round(time.Second))
	}

	pcm, err := env.loadPCM(path)
	if err != nil {
		return err
	}
	vec, err := env.extractor.Extract(pcm)
	if err != nil {
		return err
	}
	att, err := env.engine.Verify(cmd.Context(), claimed, vec)
	if err != nil {
		return err
	}

	accepted := att.Decision == verify.DecisionAccept
	subject := att.Identity
	if !att.Claimed && !accepted {
		// Failed identify attempts charge the shared unknown bucket.
		subject = attempt.Unknown
	}
	lockedOut, until := env.policy.RecordOutcome(subject, accepted)

	printAttempt(att)
	if lockedOut {
		fmt.Printf("%s is locked out until %s\n", subject, until.Format(time.TimeOnly))
	}
	if att.Decision != verify.DecisionAccept {
		// Non-zero exit so scripts can gate on the outcome.
		return fmt.Errorf("verification %s", att.Decision)
	}
	return nil
}

func printAttempt(att *verify.Attempt) {
	name := att.Identity
	if name == "" {
		name = "(no match)"
	}
	fmt.Printf("%s  %s\n", renderDecision(att.Decision), name)
	fmt.Printf("  similarity %.3f   liveness %.3f   attempt %s\n",
		att.Similarity, att.Liveness, att.ID)
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(identifyCmd)
}
