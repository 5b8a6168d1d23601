package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/websmartco/smartchat/internal/cache"
	"github.com/websmartco/smartchat/internal/log"
	"github.com/websmartco/smartchat/internal/ratelimit"
	"github.com/websmartco/smartchat/internal/validate"
)

// ErrRateLimited indicates the session exhausted its request quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// State tracks a request through the pipeline. States are per-request and
// never persisted; the terminal state lands in the Result for logging and
// analytics.
type State string

const (
	StateReceived          State = "received"
	StateValidated         State = "validated"
	StateRateChecked       State = "rate_checked"
	StateCacheChecked      State = "cache_checked"
	StateKnowledgeResolved State = "knowledge_resolved"
	StatePromptBuilt       State = "prompt_built"
	StateCompleted         State = "completed"
	StateCached            State = "cached"
	StateResponded         State = "responded"

	StateRejectedInvalidInput State = "rejected_invalid_input"
	StateRejectedRateLimited  State = "rejected_rate_limited"
	StateUpstreamFailed       State = "upstream_failed"
)

// maxQuestionLen caps the user message size in bytes.
const maxQuestionLen = 1000

// Request is one chat turn from the client.
type Request struct {
	SessionID   string
	UserMessage string
	UserName    string
	History     []Message
}

// Result is the pipeline outcome for a request.
type Result struct {
	Response string
	State    State
	CacheHit bool
}

// Pipeline runs a chat request through validation, rate limiting, the
// response cache and the upstream completer. Stateless across invocations;
// the limiter and cache are the only shared mutable pieces and are safe for
// concurrent use, so a Pipeline may serve requests concurrently.
type Pipeline struct {
	validator *validate.Validator
	limiter   *ratelimit.SlidingWindow
	cache     *cache.ResponseCache
	knowledge KnowledgeSource
	completer Completer
	assembler *PromptAssembler
	logger    log.Logger
}

// NewPipeline wires the pipeline dependencies.
func NewPipeline(
	validator *validate.Validator,
	limiter *ratelimit.SlidingWindow,
	responseCache *cache.ResponseCache,
	knowledge KnowledgeSource,
	completer Completer,
	assembler *PromptAssembler,
	logger log.Logger,
) *Pipeline {
	return &Pipeline{
		validator: validator,
		limiter:   limiter,
		cache:     responseCache,
		knowledge: knowledge,
		completer: completer,
		assembler: assembler,
		logger:    logger.With("component", "chat"),
	}
}

// Respond processes one chat request. Validation and rate-limit failures
// return the sanitized error with a terminal Result state; upstream failures
// are wrapped and never retried here.
func (p *Pipeline) Respond(ctx context.Context, req Request) (*Result, error) {
	state := StateReceived

	question, err := p.validator.SanitizeField(req.UserMessage, "user_message", validate.KindText, maxQuestionLen)
	if err != nil {
		p.logger.Warn("rejected invalid input", "session_id", req.SessionID, "error", err)
		return &Result{State: StateRejectedInvalidInput}, err
	}
	if req.UserName != "" {
		if _, err := p.validator.SanitizeField(req.UserName, "user_name", validate.KindName, 50); err != nil {
			p.logger.Warn("rejected invalid input", "session_id", req.SessionID, "error", err)
			return &Result{State: StateRejectedInvalidInput}, err
		}
	}
	state = StateValidated

	if !p.limiter.Allow(req.SessionID) {
		p.logger.Warn("rate limit exceeded", "session_id", req.SessionID)
		return &Result{State: StateRejectedRateLimited}, ErrRateLimited
	}
	state = StateRateChecked

	if answer, ok := p.cache.Get(question); ok {
		p.logger.Info("cache hit", "session_id", req.SessionID)
		return &Result{Response: answer, State: StateResponded, CacheHit: true}, nil
	}
	state = StateCacheChecked

	excerpt := p.knowledge.Excerpt(question)
	state = StateKnowledgeResolved

	messages := p.assembler.BuildPrompt(excerpt, req.History, question)
	state = StatePromptBuilt

	answer, err := p.completer.Complete(ctx, messages)
	if err != nil {
		p.logger.Error("upstream completion failed",
			"session_id", req.SessionID, "state", state, "error", err)
		return &Result{State: StateUpstreamFailed}, fmt.Errorf("completing chat request: %w", err)
	}
	state = StateCompleted

	if cache.Cacheable(question) {
		p.cache.Put(question, answer)
		state = StateCached
	}

	p.logger.Info("chat request served",
		"session_id", req.SessionID, "state", state, "history_len", len(req.History))
	return &Result{Response: answer, State: StateResponded}, nil
}
