package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datachat-agent/internal/domain"
)

const (
	defaultWelcomeMessage = "Hi! Ask me a question about your data and I'll run the numbers for you."
	defaultChartHint      = "To change how this result is visualized, use the chart controls on the result above. You can switch between table, bar, line and pie views there."

	dispatchFailureNotice = "I encountered an error processing your query. Please try rephrasing your question or breaking it into smaller parts."
)

// QueryDispatcher is the external natural-language-to-query execution
// engine, consumed at its boundary only. A failed call needs nothing beyond
// a displayable error message.
type QueryDispatcher interface {
	Dispatch(ctx context.Context, question string) (domain.QueryResult, error)
}

// SubmitOutcome reports what a Submit call did. It is informational for the
// presentation layer; Submit never returns an error (failures become
// assistant messages, everything else is a deliberate no-op).
type SubmitOutcome string

const (
	OutcomeAnswered     SubmitOutcome = "answered"
	OutcomeChartHint    SubmitOutcome = "chart_hint"
	OutcomeFailed       SubmitOutcome = "failed"
	OutcomeIgnoredEmpty SubmitOutcome = "ignored_empty"
	OutcomeIgnoredBusy  SubmitOutcome = "ignored_busy"
	OutcomeDiscarded    SubmitOutcome = "discarded"
)

// SessionConfig is the constructor-injected configuration for a Session.
// Zero values fall back to package defaults.
type SessionConfig struct {
	WelcomeMessage string
	ChartHint      string
	Now            func() time.Time
}

// Session is the conversational controller for one conversation: it owns
// the message timeline and the live context, classifies and rewrites each
// utterance, dispatches at most one engine call at a time, and recovers
// from dispatch failures without losing the last good context.
//
// All state transitions are serialized through one mutex. The mutex is not
// held across the dispatch call, which is the only suspension point, so
// Clear and further Submit calls stay responsive while a request is in
// flight.
type Session struct {
	id     string
	engine QueryDispatcher
	cfg    SessionConfig

	mu       sync.Mutex
	messages []domain.Message
	context  domain.SessionContext
	awaiting bool
	// epoch increments on every Clear; a dispatch resolution whose epoch no
	// longer matches is stale and discarded without touching any state.
	epoch int
}

// newMessageID is a seam for tests.
var newMessageID = func() string {
	return uuid.NewString()
}

// NewSession creates a Session seeded with a single welcome message and
// empty context.
func NewSession(id string, engine QueryDispatcher, cfg SessionConfig) (*Session, error) {
	if engine == nil {
		return nil, errors.New("usecase: query dispatcher must not be nil")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("usecase: session id must not be empty")
	}
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = defaultWelcomeMessage
	}
	if cfg.ChartHint == "" {
		cfg.ChartHint = defaultChartHint
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Session{id: id, engine: engine, cfg: cfg}
	s.messages = []domain.Message{s.assistantText(cfg.WelcomeMessage)}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Submit processes one utterance end to end: append the user message,
// classify, rewrite, dispatch, and fold the resolution back into the
// timeline and context. It blocks for the duration of the engine call.
//
// The second return is the assistant message this submission appended (the
// result, the chart hint, or the failure notice); it is zero for no-ops and
// discarded resolutions. Callers that act on an individual turn use it
// instead of scanning the timeline, which may have moved on by then.
//
// Empty input and input while a request is already in flight are no-ops.
// The user message is appended before dispatch, so it always precedes the
// assistant message that answers it.
func (s *Session) Submit(ctx context.Context, text string) (SubmitOutcome, domain.Message) {
	text = strings.TrimSpace(text)
	if text == "" {
		return OutcomeIgnoredEmpty, domain.Message{}
	}

	s.mu.Lock()
	if s.awaiting {
		s.mu.Unlock()
		return OutcomeIgnoredBusy, domain.Message{}
	}
	s.append(domain.Message{
		ID:        newMessageID(),
		Role:      domain.RoleUser,
		Timestamp: s.cfg.Now(),
		Content:   text,
	})

	kind := Classify(text, s.context.HasResult())
	request, dispatch := Rewrite(kind, text, s.context)
	if !dispatch {
		hint := s.assistantText(s.cfg.ChartHint)
		s.append(hint)
		s.mu.Unlock()
		return OutcomeChartHint, hint
	}

	s.awaiting = true
	epoch := s.epoch
	s.mu.Unlock()

	result, err := s.engine.Dispatch(ctx, request)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		// The conversation was cleared while this request was in flight; the
		// resolution must not resurrect old context or leak into the new one.
		return OutcomeDiscarded, domain.Message{}
	}
	s.awaiting = false

	if err != nil {
		notice := s.assistantText(dispatchFailureNotice)
		notice.ErrorDetail = err.Error()
		s.append(notice)
		return OutcomeFailed, notice
	}

	rows := result.Rows
	if rows == nil {
		rows = domain.RowSet{}
	}
	reply := resultMessage(newMessageID(), s.cfg.Now(), request, rows, result)
	s.append(reply)
	s.context = domain.SessionContext{
		LastQueryText:         request,
		LastResultRows:        rows,
		LastReferencedSources: result.ReferencedSources,
	}
	return OutcomeAnswered, reply
}

// Clear resets the conversation to a single fresh welcome message and empty
// context. Any in-flight request keeps running at the transport level but
// its resolution is discarded on arrival.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.awaiting = false
	s.messages = []domain.Message{s.assistantText(s.cfg.WelcomeMessage)}
	s.context = domain.SessionContext{}
}

// Messages returns a snapshot of the timeline.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// IsAwaitingResponse reports whether a dispatch is in flight.
func (s *Session) IsAwaitingResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

// Context returns a snapshot of the live conversational context.
func (s *Session) Context() domain.SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Suggestions recomputes the next-question suggestions from the current
// context.
func (s *Session) Suggestions() []string {
	return Suggest(s.Context())
}

// Export renders the current timeline as a flat text transcript.
func (s *Session) Export() string {
	return ExportTranscript(s.Messages())
}

// append adds a message to the timeline. Callers hold s.mu, except the
// constructor which owns the session exclusively.
func (s *Session) append(msg domain.Message) {
	s.messages = append(s.messages, msg)
}

func (s *Session) assistantText(content string) domain.Message {
	return domain.Message{
		ID:        newMessageID(),
		Role:      domain.RoleAssistantText,
		Timestamp: s.cfg.Now(),
		Content:   content,
	}
}

func resultMessage(id string, ts time.Time, queryText string, rows domain.RowSet, result domain.QueryResult) domain.Message {
	rowCount := result.RowCount
	if rowCount == 0 {
		rowCount = len(rows)
	}
	explanation := result.Explanation
	if explanation == "" {
		explanation = synthesizeExplanation(rowCount, result.ReferencedSources)
	}
	return domain.Message{
		ID:          id,
		Role:        domain.RoleAssistantResult,
		Timestamp:   ts,
		QueryText:   queryText,
		ResultRows:  rows,
		Explanation: explanation,
		Metadata: &domain.ResultMetadata{
			RowCount:          rowCount,
			ReferencedSources: result.ReferencedSources,
			EstimatedCostUSD:  result.EstimatedCostUSD,
			BytesProcessed:    result.BytesProcessed,
			Complexity:        result.Complexity,
		},
	}
}

func synthesizeExplanation(rowCount int, sources []string) string {
	switch {
	case len(sources) > 0:
		return fmt.Sprintf("The query returned %d rows from %s.", rowCount, strings.Join(sources, ", "))
	default:
		return fmt.Sprintf("The query returned %d rows.", rowCount)
	}
}
