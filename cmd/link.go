package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Links every annotation that has no comment yet",
	Long: `Runs the annotation linker over every stored annotation whose
linkedCommentId is still empty. Annotations that are already linked are
never re-evaluated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := services.Annotations.RelinkPending(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		color.New(color.Bold).Fprintf(out, "Scanned %d pending annotations\n", res.Scanned)
		color.New(color.FgGreen).Fprintf(out, "  linked: %d\n", res.Linked)
		if res.Failed > 0 {
			color.New(color.FgRed).Fprintf(out, "  failed: %d (see app log)\n", res.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
}
