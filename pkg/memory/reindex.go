package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReindexerConfig configures scheduled re-ingestion.
type ReindexerConfig struct {
	Ingester *Ingester
	Schedule string // five-field cron expression
	Logger   zerolog.Logger
}

// Reindexer re-embeds registered projects on a cron schedule.
type Reindexer struct {
	ingester *Ingester
	logger   zerolog.Logger
	cron     *cron.Cron

	mu       sync.Mutex
	projects map[string]string // project id -> source dir
}

// NewReindexer validates the schedule and builds a stopped reindexer.
func NewReindexer(cfg ReindexerConfig) (*Reindexer, error) {
	if cfg.Ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	r := &Reindexer{
		ingester: cfg.Ingester,
		logger:   cfg.Logger,
		cron:     cron.New(cron.WithParser(parser)),
		projects: make(map[string]string),
	}
	if _, err := r.cron.AddFunc(cfg.Schedule, func() {
		r.RunOnce(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule reindex: %w", err)
	}
	return r, nil
}

// Register adds or replaces a project's source directory.
func (r *Reindexer) Register(projectID, dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[projectID] = dir
}

// Unregister removes a project from the schedule.
func (r *Reindexer) Unregister(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
}

// Start begins running the schedule in the background.
func (r *Reindexer) Start() {
	r.cron.Start()
	r.logger.Info().Int("projects", len(r.snapshot())).Msg("Reindexer started")
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reindexer) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info().Msg("Reindexer stopped")
}

// RunOnce re-embeds every registered project and returns the reports of
// the projects that succeeded.
func (r *Reindexer) RunOnce(ctx context.Context) []IngestReport {
	projects := r.snapshot()
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var reports []IngestReport
	for _, id := range ids {
		report, err := r.ingester.Reembed(ctx, id, projects[id])
		if err != nil {
			r.logger.Error().Err(err).Str("project_id", id).Msg("Reindex failed")
			continue
		}
		reports = append(reports, report)
	}
	return reports
}

func (r *Reindexer) snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.projects))
	for k, v := range r.projects {
		out[k] = v
	}
	return out
}
