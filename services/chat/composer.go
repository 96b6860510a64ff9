// Package chat composes grounded answers: scope guard, retrieval, prompt assembly and generation.
package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/org-rag-assistant/internal/observability"
	"github.com/upb/org-rag-assistant/internal/prompt"
	"github.com/upb/org-rag-assistant/internal/rag"
	"github.com/upb/org-rag-assistant/services"
	"github.com/upb/org-rag-assistant/services/providers"
)

// DefaultHistoryTurns is the most recent three user/assistant exchanges
const DefaultHistoryTurns = 6

// State is a step of the answer state machine
type State string

const (
	StateClassify          State = "CLASSIFY"
	StateInjectionRefused  State = "INJECTION_REFUSED"
	StateGreetingReplied   State = "GREETING_REPLIED"
	StateRetrieving        State = "RETRIEVING"
	StateOutOfScopeRefused State = "OUT_OF_SCOPE_REFUSED"
	StateComposing         State = "COMPOSING"
	StateGenerating        State = "GENERATING"
	StateDone              State = "DONE"

	// generationFailed labels the answers metric when the model call fails
	generationFailed = "GENERATION_FAILED"
)

// IsTerminal reports whether s ends a call
func (s State) IsTerminal() bool {
	switch s {
	case StateInjectionRefused, StateGreetingReplied, StateOutOfScopeRefused, StateDone:
		return true
	}
	return false
}

// Classifier decides whether input is an injection, a greeting or a normal question
type Classifier interface {
	Classify(input string) prompt.Classification
}

// Retriever returns formatted context and sources for a query
type Retriever interface {
	Retrieve(ctx context.Context, query string) (rag.RetrievalResult, error)
}

// Answer is the result of one call
type Answer struct {
	Text         string   `json:"message"`
	Sources      []string `json:"sources"`
	State        State    `json:"state"`
	ContextFound bool     `json:"context_found"`
}

// Composer runs the answer state machine
type Composer struct {
	guard        Classifier
	retriever    Retriever
	generator    providers.GenerationProvider
	responses    prompt.Responses
	systemPrompt string
	historyTurns int
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewComposer creates a composer. metrics may be nil.
func NewComposer(
	guard Classifier,
	retriever Retriever,
	generator providers.GenerationProvider,
	organization string,
	historyTurns int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Composer {
	if organization == "" {
		organization = prompt.DefaultOrganization
	}
	if historyTurns < 0 {
		historyTurns = DefaultHistoryTurns
	}
	responses := prompt.NewResponses(organization)
	return &Composer{
		guard:        guard,
		retriever:    retriever,
		generator:    generator,
		responses:    responses,
		systemPrompt: SystemPrompt(organization, responses.OutOfScopeRefusal),
		historyTurns: historyTurns,
		metrics:      metrics,
		logger:       logger,
	}
}

// SystemPrompt returns the constant instruction block
func (c *Composer) SystemPrompt() string {
	return c.systemPrompt
}

// Answer answers query given the prior conversation. Only generation failures are returned as errors.
func (c *Composer) Answer(ctx context.Context, query string, history []rag.ConversationTurn) (*Answer, error) {
	logger := observability.WithRequestID(ctx, c.logger)

	var (
		state     = StateClassify
		sanitized string
		retrieved rag.RetrievalResult
		messages  []providers.Message
		answer    *Answer
	)

	for !state.IsTerminal() {
		switch state {
		case StateClassify:
			logger.Debug("step 1: classifying query")
			class := c.guard.Classify(query)
			switch class.Kind {
			case prompt.KindInjection:
				fields := []zap.Field{}
				if class.Detection != nil {
					fields = append(fields,
						zap.String("category", string(class.Detection.Category)),
						zap.String("pattern", class.Detection.Pattern))
				}
				logger.Warn("prompt injection detected", fields...)
				answer = &Answer{Text: c.responses.InjectionRefusal}
				state = StateInjectionRefused
			case prompt.KindGreeting:
				answer = &Answer{Text: c.responses.GreetingReply}
				state = StateGreetingReplied
			default:
				sanitized = prompt.Sanitize(query)
				state = StateRetrieving
			}

		case StateRetrieving:
			logger.Debug("step 2: retrieving context")
			result, err := c.retriever.Retrieve(ctx, sanitized)
			if err != nil {
				// retrieval failures degrade to no context
				logger.Warn("retrieval failed", zap.Error(err))
			}
			if result.IsEmpty() {
				answer = &Answer{Text: c.responses.OutOfScopeRefusal}
				state = StateOutOfScopeRefused
				break
			}
			retrieved = result
			state = StateComposing

		case StateComposing:
			logger.Debug("step 3: composing prompt", zap.Int("history_turns", min(len(history), c.historyTurns)))
			messages = BuildMessages(c.systemPrompt, history, c.historyTurns, retrieved.ContextText, sanitized)
			state = StateGenerating

		case StateGenerating:
			logger.Debug("step 4: generating answer", zap.Int("messages", len(messages)))
			start := time.Now()
			text, err := c.generator.Complete(ctx, messages)
			c.metrics.ObserveStage(observability.StageGenerate, time.Since(start))
			if err != nil {
				logger.Error("generation failed", zap.Error(err))
				c.metrics.RecordAnswer(generationFailed)
				return nil, services.WrapGeneration("generation model call failed", err)
			}
			answer = &Answer{Text: text, Sources: retrieved.SourceURLs, ContextFound: true}
			state = StateDone
		}
	}

	if answer.Sources == nil {
		answer.Sources = []string{}
	}
	answer.State = state
	c.metrics.RecordAnswer(string(state))
	logger.Info("answer composed",
		zap.String("state", string(state)),
		zap.Int("sources", len(answer.Sources)))
	return answer, nil
}
