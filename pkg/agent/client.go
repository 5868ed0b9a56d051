package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/forge/internal/observability"
	"github.com/harun/forge/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoProfiles is returned when a client is built without credentials.
var ErrNoProfiles = errors.New("no AI credentials configured")

// Config configures a failover Client
type Config struct {
	Profiles   []AuthProfile
	Factory    func(AuthProfile) (LLMProvider, error)
	Logger     zerolog.Logger
	MaxRetries int
	BaseDelay  time.Duration
}

// Client is an LLMProvider that fans over auth profiles in priority order,
// retrying transient failures on each before moving to the next.
type Client struct {
	mu         sync.RWMutex
	profiles   []AuthProfile
	factory    func(AuthProfile) (LLMProvider, error)
	logger     zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
}

// NewClient creates a failover client
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Profiles) == 0 {
		return nil, ErrNoProfiles
	}
	observability.EnsureRegistered()

	factory := cfg.Factory
	if factory == nil {
		f := &ProviderFactory{}
		factory = f.NewProvider
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	profiles := make([]AuthProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)

	return &Client{
		profiles:   profiles,
		factory:    factory,
		logger:     cfg.Logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		now:        time.Now,
	}, nil
}

// Provider returns the provider name
func (c *Client) Provider() string {
	return "failover"
}

// Call tries each available profile until one succeeds.
func (c *Client) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	c.mu.RLock()
	profiles := make([]AuthProfile, len(c.profiles))
	copy(profiles, c.profiles)
	c.mu.RUnlock()
	sortProfilesByPriority(profiles)

	logger := tracing.LoggerFromContext(ctx, c.logger)
	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && c.now().UnixMilli() < *profile.CooldownUntil {
			logger.Debug().Str("profileId", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := c.factory(profile)
		if err != nil {
			logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		req := request
		if profile.Model != "" {
			req.Model = profile.Model
		}
		resp, err := c.callWithRetry(ctx, provider, req)
		observability.RecordModelCall(profile.Provider, err == nil)
		if err == nil {
			c.markSuccess(profile.ID)
			return resp, nil
		}

		lastErr = err
		logger.Warn().Str("profileId", profile.ID).Err(err).Msg("Auth profile failed")
		c.markFailure(profile.ID)

		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("every profile is cooling down")
	}
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// callWithRetry calls the provider with exponential backoff
func (c *Client) callWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"forge.agent",
		"agent.call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", request.Model),
	)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := provider.Call(ctx, request)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			tracing.Fail(span, err)
			return nil, err
		}
		if attempt == c.maxRetries-1 {
			break
		}

		delay := c.baseDelay * time.Duration(1<<attempt)
		c.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			tracing.Fail(span, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	err := fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
	tracing.Fail(span, err)
	return nil, err
}

func (c *Client) markSuccess(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount = 0
			c.profiles[i].CooldownUntil = nil
			break
		}
	}
}

// markFailure cools a profile down for one minute per consecutive failure.
func (c *Client) markFailure(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.profiles {
		if c.profiles[i].ID == profileID {
			c.profiles[i].FailureCount++
			until := c.now().UnixMilli() + int64(60000*c.profiles[i].FailureCount)
			c.profiles[i].CooldownUntil = &until
			break
		}
	}
}

// Profiles returns a snapshot of profile state.
func (c *Client) Profiles() []AuthProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AuthProfile, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
