package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harun/forge/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	embedProject string
	embedWatch   bool
)

var embedCmd = &cobra.Command{
	Use:   "embed <dir>",
	Short: "Embed a project directory into memory",
	Long: `Chunk every recognised source file under a directory into the project's
code collection and add its directory tree and file-type summary to the
structure collection. With --watch the project is re-embedded whenever
files change until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringVarP(&embedProject, "project", "p", "", "project id (default is the directory name)")
	embedCmd.Flags().BoolVarP(&embedWatch, "watch", "w", false, "re-embed on file changes")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := args[0]
	projectID, err := projectIDFor(embedProject, dir)
	if err != nil {
		return err
	}

	report, err := rt.ingester.EmbedProject(cmd.Context(), projectID, dir)
	if err != nil {
		return err
	}
	if err := printJSON(cmd, report); err != nil {
		return err
	}
	if err := printJSON(cmd, rt.store.Stats(projectID)); err != nil {
		return err
	}

	if !embedWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchProject(ctx, cmd, rt, projectID, dir)
}

// watchProject re-embeds dir on change and, when a reindex schedule is
// configured, on that schedule too. It returns when ctx is done.
func watchProject(ctx context.Context, cmd *cobra.Command, rt *runtime, projectID, dir string) error {
	reembed := func() {
		report, err := rt.ingester.Reembed(ctx, projectID, dir)
		if err != nil {
			rt.logger.Error().Err(err).Str("project_id", projectID).Msg("Re-embed failed")
			return
		}
		rt.logger.Info().
			Str("project_id", projectID).
			Int("code_chunks", report.CodeChunks).
			Dur("duration", report.Duration).
			Msg("Project re-embedded")
	}

	watcher, err := memory.NewProjectWatcher(dir, memory.DefaultDebounce, rt.log.Component("watcher"), reembed)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to stop watcher")
		}
	}()

	if schedule := rt.cfg.Memory.ReindexSchedule; schedule != "" {
		reindexer, err := memory.NewReindexer(memory.ReindexerConfig{
			Ingester: rt.ingester,
			Schedule: schedule,
			Logger:   rt.log.Component("reindex"),
		})
		if err != nil {
			return err
		}
		reindexer.Register(projectID, dir)
		reindexer.Start()
		defer reindexer.Stop()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (project %s), press Ctrl+C to stop\n", dir, projectID)
	<-ctx.Done()
	return nil
}

// projectIDFor returns explicit, or the base name of dir when empty.
func projectIDFor(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	name := filepath.Base(abs)
	if name == "" || name == string(filepath.Separator) || name == "." {
		return "", fmt.Errorf("cannot derive a project id from %s, pass --project", dir)
	}
	return name, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
