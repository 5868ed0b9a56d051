package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/harun/forge/internal/observability"
	"github.com/harun/forge/internal/tracing"
	"github.com/harun/forge/pkg/agent"
	"github.com/harun/forge/pkg/conversation"
	"github.com/harun/forge/pkg/progress"
	"github.com/harun/forge/pkg/workflow"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	runDir          string
	runSession      string
	runOut          string
	runProgressAddr string
	runMetricsAddr  string
)

// newModel builds the generation model from the configured profiles.
var newModel = func(rt *runtime) (agent.LLMProvider, error) {
	return agent.NewClient(agent.Config{
		Profiles: convertAuthProfiles(rt.cfg.AI.Profiles),
		Logger:   rt.log.Component("agent"),
	})
}

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Plan, generate and review code for a request",
	Long: `Run the plan, generate and review workflow for a request. With --dir the
project is embedded into the reasoning project first, and with --session
the session's recent turns are embedded as prompts and the request, plan
and review are appended to it. Generated files are written under --out.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "project directory to embed as context")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "conversation session to embed and record")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "directory to write generated files to")
	runCmd.Flags().StringVar(&runProgressAddr, "progress-addr", "", "serve progress events over websocket on this address")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	request := strings.TrimSpace(args[0])
	if request == "" {
		return fmt.Errorf("request cannot be empty")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := tracing.InitOpenTelemetry("forge"); err != nil {
		rt.logger.Warn().Err(err).Msg("Failed to initialize OpenTelemetry")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = tracing.NewRunContext(ctx)
	if runSession != "" {
		if err := conversation.ValidateSessionKey(runSession); err != nil {
			return err
		}
		ctx = tracing.WithSessionID(ctx, runSession)
	}
	logger := tracing.LoggerFromContext(ctx, rt.logger)

	project := rt.cfg.Memory.ReasoningProject
	if runDir != "" {
		report, err := rt.ingester.EmbedProject(ctx, project, runDir)
		if err != nil {
			return err
		}
		logger.Info().
			Str("dir", runDir).
			Int("code_chunks", report.CodeChunks).
			Msg("Project embedded for context")
	}
	if runSession != "" {
		n, err := rt.ingester.EmbedConversation(ctx, project, runSession)
		if err != nil {
			return err
		}
		logger.Info().Int("turns", n).Msg("Conversation embedded for context")
	}

	model, err := newModel(rt)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	sink := progress.NewMultiSink(progress.NewLogSink(rt.log.Component("progress")))
	if runProgressAddr != "" {
		hub := progress.NewHub(progress.HubConfig{Logger: rt.log.Component("progress-hub")})
		addr, err := hub.Start(runProgressAddr)
		if err != nil {
			return fmt.Errorf("failed to start progress server: %w", err)
		}
		defer closeWithTimeout(hub.Close)
		sink.Add(hub)
		fmt.Fprintf(cmd.ErrOrStderr(), "Progress events at ws://%s/progress\n", addr)
	}

	metricsAddr := rt.cfg.MetricsAddr
	if runMetricsAddr != "" {
		metricsAddr = runMetricsAddr
	}
	if metricsAddr != "" {
		srv, addr, err := startMetricsServer(metricsAddr, logger)
		if err != nil {
			return err
		}
		defer closeWithTimeout(srv.Shutdown)
		logger.Info().Str("addr", addr.String()).Msg("Metrics server listening")
	}

	modelName := ""
	if primary, err := rt.cfg.PrimaryProfile(); err == nil {
		modelName = primary.Model
	}

	engine, err := workflow.NewEngine(workflow.Config{
		Model:            model,
		Memory:           rt.store,
		Sink:             sink,
		ReasoningProject: project,
		MaxTransitions:   rt.cfg.Workflow.MaxTransitions,
		ReviewWindow:     rt.cfg.Workflow.ReviewWindow,
		ModelName:        modelName,
		MaxTokens:        rt.cfg.Workflow.MaxTokens,
		Temperature:      rt.cfg.Workflow.Temperature,
		Logger:           rt.log.Component("workflow"),
	})
	if err != nil {
		return err
	}

	if runSession != "" {
		recordTurn(ctx, rt, "user", request)
	}

	state, runErr := engine.Run(ctx, request)

	if runSession != "" {
		if len(state.Plan) > 0 {
			recordTurn(ctx, rt, "assistant", formatPlan(state.Plan))
		}
		if state.ReviewFeedback != "" {
			recordTurn(ctx, rt, "assistant", state.ReviewFeedback)
		}
	}

	var written []string
	if runOut != "" && len(state.GeneratedFiles) > 0 {
		written, err = writeFiles(runOut, state.GeneratedFiles)
		if err != nil {
			return err
		}
	}

	printSummary(cmd, state, written)
	return runErr
}

func recordTurn(ctx context.Context, rt *runtime, role, content string) {
	if _, err := rt.conversations.Append(ctx, runSession, conversation.Turn{Role: role, Content: content}); err != nil {
		logger := tracing.LoggerFromContext(ctx, rt.logger)
		logger.Warn().Err(err).Str("role", role).Msg("Failed to record turn")
	}
}

func formatPlan(plan []string) string {
	var b strings.Builder
	for i, step := range plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeFiles writes files under dir and returns the written paths in
// sorted order. Paths that would escape dir are rejected.
func writeFiles(dir string, files map[string]string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	written := make([]string, 0, len(names))
	for _, name := range names {
		if filepath.IsAbs(name) {
			return written, fmt.Errorf("refusing to write absolute path %q", name)
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		rel, err := filepath.Rel(root, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return written, fmt.Errorf("refusing to write %q outside %s", name, root)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", name, err)
		}
		if err := os.WriteFile(target, []byte(files[name]), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", name, err)
		}
		written = append(written, target)
	}
	return written, nil
}

func printSummary(cmd *cobra.Command, state workflow.State, written []string) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Plan (%d steps):\n", len(state.Plan))
	for i, step := range state.Plan {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}

	fmt.Fprintf(out, "Files (%d):\n", len(state.GeneratedFiles))
	for _, name := range state.Filenames() {
		fmt.Fprintf(out, "  %s\n", name)
	}
	if len(written) > 0 {
		fmt.Fprintf(out, "Wrote %d files\n", len(written))
	}

	if state.ReviewFeedback != "" {
		fmt.Fprintf(out, "Review:\n%s\n", state.ReviewFeedback)
	}
	fmt.Fprintf(out, "Complete: %t\n", state.IsComplete)
}

func startMetricsServer(addr string, logger zerolog.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return srv, ln.Addr(), nil
}

func closeWithTimeout(closeFn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = closeFn(ctx)
}
