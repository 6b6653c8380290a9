package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enrollment and lockout status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		fmt.Printf("extractor  %s\n", env.extractor.Version())
		if env.cfg.Passphrase() != nil {
			fmt.Println("store      encrypted")
		} else {
			fmt.Println("store      plaintext")
		}
		fmt.Println()

		var rows [][]string
		for sum, err := range env.store.List(cmd.Context()) {
			if err != nil {
				return err
			}
			access := "-"
			if locked, remaining := env.policy.IsLockedOut(sum.Identity); locked {
				access = fmt.Sprintf("locked out (%s left)", remaining.Round(time.Second))
			} else if n := env.policy.Failures(sum.Identity); n > 0 {
				access = fmt.Sprintf("%d recent failure(s)", n)
			}
			compatible := "yes"
			if sum.ExtractorVersion != env.extractor.Version() {
				compatible = "re-enroll"
			}
			rows = append(rows, []string{sum.Identity, sum.State.String(), compatible, access})
		}
		if len(rows) == 0 {
			fmt.Println("no identities enrolled")
			return nil
		}
		fmt.Print(renderTable([]string{"IDENTITY", "STATE", "COMPATIBLE", "ACCESS"}, rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
