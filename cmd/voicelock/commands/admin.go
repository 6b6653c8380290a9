package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		var rows [][]string
		for sum, err := range env.store.List(cmd.Context()) {
			if err != nil {
				return err
			}
			rows = append(rows, []string{
				sum.Identity,
				fmt.Sprintf("v%d", sum.Version),
				sum.State.String(),
				fmt.Sprintf("%.2f", sum.Quality),
				sum.CreatedAt.Format(time.DateTime),
			})
		}
		if len(rows) == 0 {
			fmt.Println("no identities enrolled")
			return nil
		}
		fmt.Print(renderTable([]string{"IDENTITY", "VERSION", "STATE", "QUALITY", "ENROLLED"}, rows))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <identity>",
	Short: "Show the version history of one identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		prints, err := env.store.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var rows [][]string
		for _, vp := range prints {
			rows = append(rows, []string{
				fmt.Sprintf("v%d", vp.Version),
				vp.State.String(),
				fmt.Sprintf("%.2f", vp.Quality),
				fmt.Sprintf("%d", vp.SampleCount),
				vp.ExtractorVersion,
				vp.CreatedAt.Format(time.DateTime),
			})
		}
		fmt.Print(renderTable([]string{"VERSION", "STATE", "QUALITY", "SAMPLES", "EXTRACTOR", "CREATED"}, rows))
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <identity>",
	Short: "Revoke an identity's voiceprint",
	Long: `Revoke every voiceprint version of an identity.

A revoked identity can no longer verify. Its history is retained for
audit; a new enrollment makes the identity usable again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv()
		if err != nil {
			return err
		}
		defer env.close()

		if err := env.store.Revoke(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("revoked %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(revokeCmd)
}
