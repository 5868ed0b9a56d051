package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/forge/internal/observability"
	"github.com/harun/forge/internal/tracing"
	"github.com/harun/forge/pkg/agent"
	"github.com/harun/forge/pkg/memory"
	"github.com/harun/forge/pkg/progress"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultReasoningProject = "reasoning"
	DefaultMaxTransitions   = 50
	DefaultReviewWindow     = 5
	DefaultContextResults   = 5
	DefaultMaxTokens        = 4096

	// emptyReview stands in for a blank review so routing can progress.
	emptyReview = "(empty review)"
)

// Searcher is the slice of the memory store the workflow reads.
type Searcher interface {
	SearchProject(ctx context.Context, projectID, query string, k int) ([]memory.SearchResult, error)
}

// Config holds engine configuration
type Config struct {
	Model            agent.LLMProvider
	Memory           Searcher // nil disables retrieval
	Sink             progress.Sink
	ReasoningProject string
	MaxTransitions   int
	ReviewWindow     int
	ContextResults   int
	ModelName        string
	MaxTokens        int
	Temperature      float64
	Logger           zerolog.Logger
}

// NodeFunc computes an update from a state without side effects on it.
type NodeFunc func(ctx context.Context, s State) (Update, error)

// Engine runs workflow state machines.
type Engine struct {
	model            agent.LLMProvider
	memory           Searcher
	sink             progress.Sink
	reasoningProject string
	maxTransitions   int
	reviewWindow     int
	contextResults   int
	modelName        string
	maxTokens        int
	temperature      float64
	logger           zerolog.Logger
}

// NewEngine creates an Engine
func NewEngine(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Model == nil {
		return nil, fmt.Errorf("generation model is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = progress.Discard
	}
	if cfg.ReasoningProject == "" {
		cfg.ReasoningProject = DefaultReasoningProject
	}
	if cfg.MaxTransitions <= 0 {
		cfg.MaxTransitions = DefaultMaxTransitions
	}
	if cfg.ReviewWindow <= 0 {
		cfg.ReviewWindow = DefaultReviewWindow
	}
	if cfg.ContextResults <= 0 {
		cfg.ContextResults = DefaultContextResults
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	return &Engine{
		model:            cfg.Model,
		memory:           cfg.Memory,
		sink:             cfg.Sink,
		reasoningProject: cfg.ReasoningProject,
		maxTransitions:   cfg.MaxTransitions,
		reviewWindow:     cfg.ReviewWindow,
		contextResults:   cfg.ContextResults,
		modelName:        cfg.ModelName,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		logger:           cfg.Logger,
	}, nil
}

// Run drives a fresh state for request until Done. On failure the
// returned error is a *RunError holding the partial state, which is also
// returned directly.
func (e *Engine) Run(ctx context.Context, request string) (State, error) {
	if tracing.GetRunID(ctx) == "" {
		ctx = tracing.NewRunContext(ctx)
	}
	runID := tracing.GetRunID(ctx)
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.workflow",
		"workflow.run",
		attribute.String("run_id", runID),
		attribute.String("project_id", e.reasoningProject),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger)

	start := time.Now()
	state := NewState(request)
	e.emit(ctx, progress.EventRunStarted, NodePlan, map[string]interface{}{"request": request})
	logger.Info().Msg("Workflow run started")

	fail := func(node Node, s State, err error) (State, error) {
		tracing.Fail(span, err)
		observability.RecordWorkflowRun(false)
		e.emit(ctx, progress.EventRunFailed, node, map[string]interface{}{
			"error":     err.Error(),
			"iteration": s.CurrentIteration,
		})
		logger.Error().Err(err).Str("node", node.String()).Msg("Workflow run failed")
		return s, &RunError{Node: node, State: s, Err: err}
	}

	for transitions := 0; ; transitions++ {
		node := Route(state)
		if node == NodeDone {
			break
		}
		if transitions >= e.maxTransitions {
			return fail(node, state, fmt.Errorf("%w: %d", ErrMaxTransitions, e.maxTransitions))
		}
		if err := ctx.Err(); err != nil {
			return fail(node, state, err)
		}

		next, _, err := e.Step(ctx, state)
		if err != nil {
			return fail(node, state, err)
		}
		state = next
	}

	observability.RecordWorkflowRun(true)
	e.emit(ctx, progress.EventRunCompleted, NodeDone, map[string]interface{}{
		"files":      state.Filenames(),
		"steps":      len(state.Plan),
		"approved":   IsApproved(state.ReviewFeedback),
		"durationMs": time.Since(start).Milliseconds(),
	})
	logger.Info().
		Int("files", len(state.GeneratedFiles)).
		Int("steps", len(state.Plan)).
		Dur("duration", time.Since(start)).
		Msg("Workflow run completed")
	return state, nil
}

// Step runs the single node Route selects for s and returns the merged
// state and the node that ran. A Done state is returned unchanged.
func (e *Engine) Step(ctx context.Context, s State) (State, Node, error) {
	node := Route(s)
	if node == NodeDone {
		return s, node, nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"forge.workflow",
		"workflow.node",
		attribute.String("node", node.String()),
		attribute.Int("iteration", s.CurrentIteration),
	)
	defer span.End()

	start := time.Now()
	update, err := e.node(node)(ctx, s)
	observability.RecordWorkflowNode(node.String(), time.Since(start))
	if err != nil {
		tracing.Fail(span, err)
		return s, node, err
	}

	next, err := s.Apply(update)
	if err != nil {
		tracing.Fail(span, err)
		return s, node, err
	}
	e.report(ctx, node, s, next, update)
	return next, node, nil
}

// node maps every runnable node to its function.
func (e *Engine) node(n Node) NodeFunc {
	switch n {
	case NodePlan:
		return e.plan
	case NodeGenerate:
		return e.generate
	case NodeReview:
		return e.review
	case NodeDone:
		return func(context.Context, State) (Update, error) { return Update{}, nil }
	default:
		panic(fmt.Sprintf("workflow: unknown node %d", n))
	}
}

// report emits the progress event describing a completed node.
func (e *Engine) report(ctx context.Context, node Node, before, after State, u Update) {
	switch node {
	case NodePlan:
		e.emit(ctx, progress.EventPlanProduced, node, map[string]interface{}{
			"steps": after.Plan,
		})
	case NodeGenerate:
		if before.CurrentIteration >= len(before.Plan) {
			return
		}
		paths := make([]string, len(u.Files))
		for i, f := range u.Files {
			paths[i] = f.Path
		}
		e.emit(ctx, progress.EventFilesProduced, node, map[string]interface{}{
			"step":      before.CurrentIteration,
			"stepTitle": before.Plan[before.CurrentIteration],
			"files":     paths,
		})
	case NodeReview:
		e.emit(ctx, progress.EventReviewFeedback, node, map[string]interface{}{
			"feedback": after.ReviewFeedback,
			"approved": after.IsComplete,
		})
	}
}

func (e *Engine) emit(ctx context.Context, t progress.EventType, node Node, data map[string]interface{}) {
	e.sink.Emit(progress.Event{
		Type:  t,
		RunID: tracing.GetRunID(ctx),
		Time:  time.Now(),
		Node:  node.String(),
		Data:  data,
	})
}

func (e *Engine) call(ctx context.Context, system, prompt string) (string, error) {
	messages := []agent.AgentMessage{{Role: "user", Content: prompt}}
	resp, err := e.model.Call(ctx, agent.LLMRequest{
		Model:        e.modelName,
		SystemPrompt: system,
		Messages:     messages,
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", ErrProviderFailure)
	}

	logger := tracing.LoggerFromContext(ctx, e.logger)
	event := logger.Debug().
		Int("estimated_input_tokens", agent.EstimateTokens(messages))
	if resp.Usage != nil {
		event = event.
			Int("input_tokens", resp.Usage.InputTokens).
			Int("output_tokens", resp.Usage.OutputTokens)
	}
	event.Msg("Model call completed")
	return resp.Content, nil
}

// plan asks for a numbered step list. Unparseable output leaves the plan
// empty so routing returns to Plan.
func (e *Engine) plan(ctx context.Context, s State) (Update, error) {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	content, err := e.call(ctx, planSystemPrompt, planPrompt(s.UserRequest))
	if err != nil {
		return Update{}, err
	}

	steps := ParsePlan(content)
	if len(steps) == 0 {
		logger.Warn().Err(ErrParseFailure).Msg("Plan response had no numbered steps")
		steps = []string{}
	}
	return Update{
		Messages: []Message{{Role: "assistant", Node: NodePlan, Content: content}},
		Plan:     steps,
	}, nil
}

// generate writes the files for the current step, or completes the run
// when every step is done.
func (e *Engine) generate(ctx context.Context, s State) (Update, error) {
	i := s.CurrentIteration
	if i >= len(s.Plan) {
		return Update{Complete: boolPtr(true)}, nil
	}
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Int("step", i).Logger()

	stepContext := e.recall(ctx, s.Plan[i])
	projectContext := e.recall(ctx, s.UserRequest)

	content, err := e.call(ctx, generateSystemPrompt, generatePrompt(s, i, stepContext, projectContext))
	if err != nil {
		return Update{}, err
	}

	files := ParseFiles(content)
	if len(files) == 0 {
		logger.Warn().Err(ErrParseFailure).Msg("Generate response had no files")
	}
	return Update{
		Messages:  []Message{{Role: "assistant", Node: NodeGenerate, Content: content}},
		Files:     files,
		Iteration: intPtr(i + 1),
	}, nil
}

// recall searches the reasoning project; any failure yields the
// unavailable placeholder.
func (e *Engine) recall(ctx context.Context, query string) string {
	if e.memory == nil {
		return MemoryUnavailable
	}
	results, err := e.memory.SearchProject(ctx, e.reasoningProject, query, e.contextResults)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Warn().
			Err(err).
			Str("project_id", e.reasoningProject).
			Msg("Memory lookup failed")
		return MemoryUnavailable
	}
	return formatContext(results)
}

// review judges the most recent files. Completion needs an approval and
// every step generated.
func (e *Engine) review(ctx context.Context, s State) (Update, error) {
	files := s.RecentFiles(e.reviewWindow)

	content, err := e.call(ctx, reviewSystemPrompt, reviewPrompt(s, files))
	if err != nil {
		return Update{}, err
	}

	feedback := content
	if strings.TrimSpace(feedback) == "" {
		feedback = emptyReview
	}
	return Update{
		Messages:       []Message{{Role: "assistant", Node: NodeReview, Content: content}},
		ReviewFeedback: stringPtr(feedback),
		Complete:       boolPtr(IsApproved(content) && s.CurrentIteration >= len(s.Plan)),
	}, nil
}

// IsRunError reports whether err aborted a run and returns its partial
// state.
func IsRunError(err error) (State, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.State, true
	}
	return State{}, false
}
