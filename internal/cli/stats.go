package cli

import (
	"github.com/spf13/cobra"
)

var statsProject string

var statsCmd = &cobra.Command{
	Use:   "stats <dir>",
	Short: "Embed a project and print its collection sizes",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsProject, "project", "p", "", "project id (default is the directory name)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	projectID, err := projectIDFor(statsProject, args[0])
	if err != nil {
		return err
	}
	if _, err := rt.ingester.EmbedProject(cmd.Context(), projectID, args[0]); err != nil {
		return err
	}
	return printJSON(cmd, rt.store.Stats(projectID))
}
