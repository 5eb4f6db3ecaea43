package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"datachat-agent/internal/domain"
)

type fakeParams struct {
	vals     map[string]string
	err      error
	failOnce bool
	calls    int
}

func (p *fakeParams) GetParameterOrDefault(_ context.Context, name, fallback string) (string, error) {
	p.calls++
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	if p.err != nil {
		return "", p.err
	}
	if v, ok := p.vals[name]; ok {
		return v, nil
	}
	return fallback, nil
}

type fakeArchive struct {
	savedSessionID string
	savedQuery     string
	savedRowCount  int
	savedSources   []string
	savedTurns     int
	saveErr        error

	transcriptBody string
	transcriptErr  error

	turns     []domain.TurnRecord
	turnsErr  error
	totalErr  error
	turnCount int
}

func (a *fakeArchive) SaveCompletedTurn(_ context.Context, sessionID, queryText string, rowCount int, sources []string, turns int) error {
	a.savedSessionID = sessionID
	a.savedQuery = queryText
	a.savedRowCount = rowCount
	a.savedSources = sources
	a.savedTurns = turns
	return a.saveErr
}

func (a *fakeArchive) SaveTranscript(_ context.Context, _, body string) error {
	a.transcriptBody = body
	return a.transcriptErr
}

func (a *fakeArchive) ListRecentTurns(_ context.Context, _ string, _ int) ([]domain.TurnRecord, error) {
	return a.turns, a.turnsErr
}

func (a *fakeArchive) GetSessionTurnCount(_ context.Context, _ string) (int, error) {
	return a.turnCount, a.totalErr
}

func newTestService(t *testing.T, p ParamGetter, engine QueryDispatcher, archive TranscriptArchiver) *Service {
	t.Helper()
	svc, err := NewService(p, engine, archive, "/datachat", 300, 10)
	require.NoError(t, err)
	return svc
}

func expectServiceError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var svcErr *Error
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, code, svcErr.Code)
	require.Equal(t, reason, svcErr.Reason)
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, &fakeEngine{}, &fakeArchive{}, "/datachat", 300, 10)
	require.Error(t, err)

	_, err = NewService(&fakeParams{}, nil, &fakeArchive{}, "/datachat", 300, 10)
	require.Error(t, err)

	_, err = NewService(&fakeParams{}, &fakeEngine{}, nil, "/datachat", 300, 10)
	require.Error(t, err)

	_, err = NewService(&fakeParams{}, &fakeEngine{}, &fakeArchive{}, "  ", 300, 10)
	require.Error(t, err)
}

func TestAsk_HappyPathArchivesTurn(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	archive := &fakeArchive{}
	svc := newTestService(t, &fakeParams{}, engine, archive)

	out, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "Show me total revenue by month"})
	require.NoError(t, err)
	require.Equal(t, "sess-1", out.SessionID)
	require.Equal(t, OutcomeAnswered, out.Outcome)
	require.Len(t, out.Messages, 3)
	require.Len(t, out.Suggestions, 5)

	require.Equal(t, "sess-1", archive.savedSessionID)
	require.Equal(t, "Show me total revenue by month", archive.savedQuery)
	require.Equal(t, 1, archive.savedRowCount)
	require.Equal(t, []string{"sales"}, archive.savedSources)
	require.Equal(t, 1, archive.savedTurns)
}

func TestAsk_MissingSessionID_GeneratesID(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc := newTestService(t, &fakeParams{}, engine, &fakeArchive{})

	out, err := svc.Ask(context.Background(), AskInput{Text: "Show me total revenue by month"})
	require.NoError(t, err)
	require.NotEmpty(t, out.SessionID)
}

func TestAsk_ValidationErrors(t *testing.T) {
	svc := newTestService(t, &fakeParams{}, &fakeEngine{}, &fakeArchive{})

	_, err := svc.Ask(context.Background(), AskInput{Text: "   "})
	expectServiceError(t, err, ErrorInvalidInput, "empty_question")

	_, err = svc.Ask(context.Background(), AskInput{Text: strings.Repeat("a", 301)})
	expectServiceError(t, err, ErrorInvalidInput, "question_too_long")
}

func TestAsk_SSMLoadError_IsRetriedOnNextRequest(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	params := &fakeParams{failOnce: true}
	svc := newTestService(t, params, engine, &fakeArchive{})

	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	expectServiceError(t, err, ErrorInternal, "ssm_load_error")

	out, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, out.Outcome)
}

func TestAsk_WelcomeMessageComesFromParams(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	params := &fakeParams{vals: map[string]string{"/datachat/welcome_message": "Hello from SSM"}}
	svc := newTestService(t, params, engine, &fakeArchive{})

	out, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "Hello from SSM", out.Messages[0].Content)
}

func TestAsk_DispatchFailureIsNotAServiceError(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{err: errors.New("engine down")}}}
	archive := &fakeArchive{}
	svc := newTestService(t, &fakeParams{}, engine, archive)

	out, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, out.Outcome)
	require.Empty(t, archive.savedSessionID)

	last := out.Messages[len(out.Messages)-1]
	require.Equal(t, domain.RoleAssistantText, last.Role)
	require.Equal(t, "engine down", last.ErrorDetail)
}

func TestAsk_ArchiveWriteError(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc := newTestService(t, &fakeParams{}, engine, &fakeArchive{saveErr: errors.New("dynamodb down")})

	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	expectServiceError(t, err, ErrorInternal, "archive_write_error")
}

func TestAsk_ContinuesArchivedTurnSequence(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	archive := &fakeArchive{turnCount: 5}
	svc := newTestService(t, &fakeParams{}, engine, archive)

	// A fresh registry entry picks up where the durable count left off.
	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, 6, archive.savedTurns)

	// Clearing the conversation does not rewind the archived sequence.
	require.NoError(t, svc.ClearSession("sess-1"))
	_, err = svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, 7, archive.savedTurns)
}

func TestAsk_TurnCountReadError(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	archive := &fakeArchive{totalErr: errors.New("meta read failed")}
	svc := newTestService(t, &fakeParams{}, engine, archive)

	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	expectServiceError(t, err, ErrorInternal, "archive_read_error")
	require.Empty(t, archive.savedSessionID)
}

func TestAsk_ReusesSessionAcrossCalls(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc := newTestService(t, &fakeParams{}, engine, &fakeArchive{})

	first, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "one"})
	require.NoError(t, err)
	second, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "two"})
	require.NoError(t, err)
	require.Greater(t, len(second.Messages), len(first.Messages))
}

func TestAsk_EvictsOldestSessionWhenFull(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc, err := NewService(&fakeParams{}, engine, &fakeArchive{}, "/datachat", 300, 2)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Ask(context.Background(), AskInput{SessionID: id, Text: "q"})
		require.NoError(t, err)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.sessions, 2)
	require.NotContains(t, svc.sessions, "a")
}

func TestSuggestions_UnknownSessionGetsBaseline(t *testing.T) {
	svc := newTestService(t, &fakeParams{}, &fakeEngine{}, &fakeArchive{})
	require.Equal(t, baselineSuggestions, svc.Suggestions("nope"))
}

func TestSuggestions_KnownSessionUsesItsContext(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc := newTestService(t, &fakeParams{}, engine, &fakeArchive{})

	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, numericSuggestions, svc.Suggestions("sess-1"))
}

func TestClearSession(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	svc := newTestService(t, &fakeParams{}, engine, &fakeArchive{})

	require.Error(t, svc.ClearSession("nope"))

	_, err := svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)
	require.NoError(t, svc.ClearSession("sess-1"))
	require.Equal(t, baselineSuggestions, svc.Suggestions("sess-1"))
}

func TestExportTranscript_Service(t *testing.T) {
	engine := &fakeEngine{replies: []engineReply{{result: revenueResult()}}}
	archive := &fakeArchive{}
	svc := newTestService(t, &fakeParams{}, engine, archive)

	_, err := svc.ExportTranscript(context.Background(), "nope")
	expectServiceError(t, err, ErrorNotFound, "session_unknown")

	_, err = svc.Ask(context.Background(), AskInput{SessionID: "sess-1", Text: "q"})
	require.NoError(t, err)

	body, err := svc.ExportTranscript(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Contains(t, body, "Query: q")
	require.Equal(t, body, archive.transcriptBody)

	archive.transcriptErr = errors.New("write denied")
	_, err = svc.ExportTranscript(context.Background(), "sess-1")
	expectServiceError(t, err, ErrorInternal, "transcript_write_error")
}

func TestHistory(t *testing.T) {
	archive := &fakeArchive{
		turns:     []domain.TurnRecord{{SessionID: "sess-1", QueryText: "q"}},
		turnCount: 9,
	}
	svc := newTestService(t, &fakeParams{}, &fakeEngine{}, archive)

	_, err := svc.History(context.Background(), " ", 10)
	expectServiceError(t, err, ErrorInvalidInput, "empty_session_id")

	out, err := svc.History(context.Background(), "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, out.Turns, 1)
	require.Equal(t, 9, out.TotalTurns)

	archive.totalErr = errors.New("meta read failed")
	_, err = svc.History(context.Background(), "sess-1", 10)
	expectServiceError(t, err, ErrorInternal, "archive_read_error")
	archive.totalErr = nil

	archive.turnsErr = errors.New("query throttled")
	_, err = svc.History(context.Background(), "sess-1", 10)
	expectServiceError(t, err, ErrorInternal, "archive_read_error")
}
