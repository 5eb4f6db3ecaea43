package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"datachat-agent/internal/domain"
)

const (
	defaultMaxQuestionLen = 500
	defaultMaxSessions    = 100
	defaultHistoryLimit   = 20
)

// ParamGetter loads operator-tunable conversational copy from the parameter
// store. Missing parameters resolve to the given fallback.
type ParamGetter interface {
	GetParameterOrDefault(ctx context.Context, name, fallback string) (string, error)
}

// TranscriptArchiver is the durable conversation archive boundary. The
// in-memory session never talks to it; archival is a service-layer concern.
type TranscriptArchiver interface {
	SaveCompletedTurn(ctx context.Context, sessionID, queryText string, rowCount int, sources []string, turns int) error
	SaveTranscript(ctx context.Context, sessionID, body string) error
	ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error)
	GetSessionTurnCount(ctx context.Context, sessionID string) (int, error)
}

// Service owns the session registry and wires sessions to the execution
// engine, the parameter store and the conversation archive. One Service
// serves many independent sessions; each session's state is its own.
type Service struct {
	params         ParamGetter
	engine         QueryDispatcher
	archive        TranscriptArchiver
	paramPrefix    string
	maxQuestionLen int
	maxSessions    int

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	cacheMu        sync.RWMutex
	cacheLoaded    bool
	welcomeMessage string
	chartHint      string
}

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
	// turns continues the durable META# sequence; it is seeded from the
	// archive on the entry's first answered turn, not from zero.
	turns       int
	turnsLoaded bool
}

type AskInput struct {
	SessionID string
	Text      string
}

type AskOutput struct {
	SessionID   string
	Outcome     SubmitOutcome
	Messages    []domain.Message
	Suggestions []string
}

// NewService creates a Service. maxQuestionLen and maxSessions fall back to
// package defaults when non-positive.
func NewService(p ParamGetter, engine QueryDispatcher, archive TranscriptArchiver, paramPrefix string, maxQuestionLen, maxSessions int) (*Service, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: query dispatcher must not be nil")
	}
	if archive == nil {
		return nil, errors.New("usecase: transcript archiver must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestionLen
	}
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &Service{
		params:         p,
		engine:         engine,
		archive:        archive,
		paramPrefix:    paramPrefix,
		maxQuestionLen: maxQuestionLen,
		maxSessions:    maxSessions,
		sessions:       make(map[string]*sessionEntry),
	}, nil
}

// Ask routes one utterance to its session and returns the updated timeline
// plus recomputed suggestions. A dispatch failure is not an error here: it
// surfaces as an assistant notice inside the timeline. Only envelope-level
// problems (bad input, config load, archive writes) produce coded errors.
func (s *Service) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(text) > s.maxQuestionLen {
		return AskOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return AskOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	entry, sessionID, err := s.obtainSession(in.SessionID)
	if err != nil {
		return AskOutput{}, err
	}

	outcome, reply := entry.session.Submit(ctx, text)

	if outcome == OutcomeAnswered {
		turns, err := s.nextTurnCount(ctx, entry, sessionID)
		if err != nil {
			return AskOutput{}, newError(ErrorInternal, "archive_read_error", err)
		}
		if err := s.archiveTurn(ctx, sessionID, reply, turns); err != nil {
			return AskOutput{}, newError(ErrorInternal, "archive_write_error", err)
		}
	}

	return AskOutput{
		SessionID:   sessionID,
		Outcome:     outcome,
		Messages:    entry.session.Messages(),
		Suggestions: entry.session.Suggestions(),
	}, nil
}

// Suggestions returns the quick-input candidates for a session. An unknown
// session simply gets the no-context baseline.
func (s *Service) Suggestions(sessionID string) []string {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return Suggest(domain.SessionContext{})
	}
	return entry.session.Suggestions()
}

// ClearSession resets a session to its freshly-created state. The archived
// turn sequence is cumulative for the session ID and is not rewound.
func (s *Service) ClearSession(sessionID string) error {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return newError(ErrorNotFound, "session_unknown", nil)
	}
	entry.session.Clear()
	return nil
}

// ExportTranscript renders a session's transcript, archives it, and returns
// the rendered text.
func (s *Service) ExportTranscript(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	entry, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", newError(ErrorNotFound, "session_unknown", nil)
	}
	body := entry.session.Export()
	if err := s.archive.SaveTranscript(ctx, sessionID, body); err != nil {
		return "", newError(ErrorInternal, "transcript_write_error", err)
	}
	return body, nil
}

type HistoryOutput struct {
	Turns      []domain.TurnRecord
	TotalTurns int
}

// History returns the most recent archived turns for a session plus the
// total archived turn count, surviving process recycling.
func (s *Service) History(ctx context.Context, sessionID string, limit int) (HistoryOutput, error) {
	if strings.TrimSpace(sessionID) == "" {
		return HistoryOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	turns, err := s.archive.ListRecentTurns(ctx, sessionID, limit)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "archive_read_error", err)
	}
	total, err := s.archive.GetSessionTurnCount(ctx, sessionID)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "archive_read_error", err)
	}
	return HistoryOutput{Turns: turns, TotalTurns: total}, nil
}

// obtainSession finds or creates the registry entry for a session ID,
// evicting the longest-idle entry when the registry is full.
func (s *Service) obtainSession(sessionID string) (*sessionEntry, string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}

	s.cacheMu.RLock()
	welcome, hint := s.welcomeMessage, s.chartHint
	s.cacheMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[sessionID]; ok {
		entry.lastSeen = time.Now()
		return entry, sessionID, nil
	}

	if len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	sess, err := NewSession(sessionID, s.engine, SessionConfig{
		WelcomeMessage: welcome,
		ChartHint:      hint,
	})
	if err != nil {
		return nil, "", newError(ErrorInternal, "session_create_error", err)
	}
	entry := &sessionEntry{session: sess, lastSeen: time.Now()}
	s.sessions[sessionID] = entry
	return entry, sessionID, nil
}

func (s *Service) evictOldestLocked() {
	var oldestID string
	var oldestSeen time.Time
	for id, entry := range s.sessions {
		if oldestID == "" || entry.lastSeen.Before(oldestSeen) {
			oldestID = id
			oldestSeen = entry.lastSeen
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
	}
}

// nextTurnCount resolves the turn number for a just-answered turn. A fresh
// registry entry (new process, post-eviction) continues the durable META#
// sequence: the archived count is read once, cached on the entry, and
// incremented from there.
func (s *Service) nextTurnCount(ctx context.Context, entry *sessionEntry, sessionID string) (int, error) {
	s.mu.Lock()
	loaded := entry.turnsLoaded
	s.mu.Unlock()

	if !loaded {
		existing, err := s.archive.GetSessionTurnCount(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		s.mu.Lock()
		if !entry.turnsLoaded {
			entry.turns = existing
			entry.turnsLoaded = true
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.turns++
	return entry.turns, nil
}

// archiveTurn persists the turn described by the reply message returned by
// the submission itself, so each answered turn archives its own result even
// when the timeline has already moved on.
func (s *Service) archiveTurn(ctx context.Context, sessionID string, reply domain.Message, turns int) error {
	rowCount := len(reply.ResultRows)
	var sources []string
	if reply.Metadata != nil {
		rowCount = reply.Metadata.RowCount
		sources = reply.Metadata.ReferencedSources
	}
	return s.archive.SaveCompletedTurn(ctx, sessionID, reply.QueryText, rowCount, sources, turns)
}

// ensureConfig lazily loads conversational copy from SSM once per process;
// a failed load is retried on the next request.
func (s *Service) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	welcome, err := s.params.GetParameterOrDefault(ctx, s.paramPrefix+"/welcome_message", defaultWelcomeMessage)
	if err != nil {
		return err
	}
	hint, err := s.params.GetParameterOrDefault(ctx, s.paramPrefix+"/chart_hint", defaultChartHint)
	if err != nil {
		return err
	}

	s.welcomeMessage = welcome
	s.chartHint = hint
	s.cacheLoaded = true
	return nil
}

var newSessionID = func() string {
	return uuid.NewString()
}
