package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/forge/pkg/conversation"
	"github.com/spf13/cobra"
)

var (
	appendRole string
	showLast   int
	showJSON   bool
)

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Manage conversation sessions",
	Long: `Manage the JSONL conversation log. The most recent turns of a session are
embedded as prompts by 'forge run --session'.`,
}

var conversationAppendCmd = &cobra.Command{
	Use:   "append <session> <content>",
	Short: "Append a turn to a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runConversationAppend,
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationShow,
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runConversationList,
}

var conversationRepairCmd = &cobra.Command{
	Use:   "repair <session>",
	Short: "Drop corrupt lines from a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationRepair,
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationDelete,
}

func init() {
	conversationAppendCmd.Flags().StringVarP(&appendRole, "role", "r", "user", "turn role (user, assistant)")
	conversationShowCmd.Flags().IntVarP(&showLast, "last", "n", 0, "show only the last n turns")
	conversationShowCmd.Flags().BoolVar(&showJSON, "json", false, "print turns as JSON")

	conversationCmd.AddCommand(conversationAppendCmd)
	conversationCmd.AddCommand(conversationShowCmd)
	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationRepairCmd)
	conversationCmd.AddCommand(conversationDeleteCmd)
	rootCmd.AddCommand(conversationCmd)
}

func runConversationAppend(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	turn, err := rt.conversations.Append(cmd.Context(), args[0], conversation.Turn{
		Role:    appendRole,
		Content: args[1],
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Appended turn %s to %s\n", turn.ID, args[0])
	return nil
}

func runConversationShow(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	var turns []conversation.Turn
	if showLast > 0 {
		turns, err = rt.conversations.LastN(cmd.Context(), args[0], showLast)
	} else {
		turns, err = rt.conversations.Load(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	if showJSON {
		return printJSON(cmd, turns)
	}
	out := cmd.OutOrStdout()
	if len(turns) == 0 {
		fmt.Fprintf(out, "Session %s has no turns\n", args[0])
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "[%s] %s: %s\n", t.Timestamp.Format(time.RFC3339), t.Role, strings.TrimSpace(t.Content))
	}
	return nil
}

func runConversationList(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	sessions, err := rt.conversations.List()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintln(cmd.OutOrStdout(), s)
	}
	return nil
}

func runConversationRepair(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	kept, err := rt.conversations.Repair(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Repaired %s: %d turns kept\n", args[0], kept)
	return nil
}

func runConversationDelete(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.conversations.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
