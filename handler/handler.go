package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"datachat-agent/internal/domain"
	"datachat-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// conversationService is the slice of the usecase layer the handler needs.
type conversationService interface {
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	Suggestions(sessionID string) []string
	ClearSession(sessionID string) error
	ExportTranscript(ctx context.Context, sessionID string) (string, error)
	History(ctx context.Context, sessionID string, limit int) (usecase.HistoryOutput, error)
}

type Handler struct {
	svc conversationService
}

func NewHandler(svc conversationService) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	return &Handler{svc: svc}, nil
}

type askRequest struct {
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

type askResponse struct {
	SessionID   string           `json:"sessionId"`
	Outcome     string           `json:"outcome"`
	Messages    []domain.Message `json:"messages"`
	Suggestions []string         `json:"suggestions"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

type suggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type clearResponse struct {
	Cleared bool `json:"cleared"`
}

type exportResponse struct {
	Transcript string `json:"transcript"`
}

type historyTurn struct {
	QueryText         string   `json:"queryText"`
	RowCount          int      `json:"rowCount"`
	ReferencedSources []string `json:"referencedSources,omitempty"`
}

type historyResponse struct {
	Turns      []historyTurn `json:"turns"`
	TotalTurns int           `json:"totalTurns"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handle routes API Gateway events by path: /ask, /suggestions, /clear,
// /export and /history.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := correlationIDFrom(event.Headers)

	switch event.Path {
	case "/ask":
		return h.handleAsk(ctx, event, correlationID)
	case "/suggestions":
		return h.handleSuggestions(event, correlationID)
	case "/clear":
		return h.handleClear(event, correlationID)
	case "/export":
		return h.handleExport(ctx, event, correlationID)
	case "/history":
		return h.handleHistory(ctx, event, correlationID)
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_path"}, correlationID), nil
	}
}

func (h *Handler) handleAsk(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, error) {
	var req askRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}

	out, err := h.svc.Ask(ctx, usecase.AskInput{SessionID: req.SessionID, Text: req.Question})
	if err != nil {
		return errorToResponse(err, correlationID), nil
	}

	return jsonResponse(http.StatusOK, askResponse{
		SessionID:   out.SessionID,
		Outcome:     string(out.Outcome),
		Messages:    out.Messages,
		Suggestions: out.Suggestions,
	}, correlationID), nil
}

func (h *Handler) handleSuggestions(event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, error) {
	var req sessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}
	return jsonResponse(http.StatusOK, suggestionsResponse{Suggestions: h.svc.Suggestions(req.SessionID)}, correlationID), nil
}

func (h *Handler) handleClear(event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, error) {
	var req sessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}
	if err := h.svc.ClearSession(req.SessionID); err != nil {
		return errorToResponse(err, correlationID), nil
	}
	return jsonResponse(http.StatusOK, clearResponse{Cleared: true}, correlationID), nil
}

func (h *Handler) handleExport(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, error) {
	var req sessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}
	body, err := h.svc.ExportTranscript(ctx, req.SessionID)
	if err != nil {
		return errorToResponse(err, correlationID), nil
	}
	return jsonResponse(http.StatusOK, exportResponse{Transcript: body}, correlationID), nil
}

func (h *Handler) handleHistory(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, error) {
	var req sessionRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "malformed_body"}, correlationID), nil
	}
	out, err := h.svc.History(ctx, req.SessionID, req.Limit)
	if err != nil {
		return errorToResponse(err, correlationID), nil
	}
	turns := make([]historyTurn, 0, len(out.Turns))
	for _, turn := range out.Turns {
		turns = append(turns, historyTurn{
			QueryText:         turn.QueryText,
			RowCount:          turn.RowCount,
			ReferencedSources: turn.ReferencedSources,
		})
	}
	return jsonResponse(http.StatusOK, historyResponse{Turns: turns, TotalTurns: out.TotalTurns}, correlationID), nil
}

// errorToResponse maps usecase error codes to HTTP statuses. Anything that
// is not a coded usecase error is an internal error.
func errorToResponse(err error, correlationID string) events.APIGatewayProxyResponse {
	var svcErr *usecase.Error
	if !errors.As(err, &svcErr) {
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)}, correlationID)
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorInternal:
		status = http.StatusInternalServerError
	}
	return jsonResponse(status, errorResponse{Error: string(svcErr.Code), Reason: svcErr.Reason}, correlationID)
}

func jsonResponse(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    responseHeaders(correlationID),
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    responseHeaders(correlationID),
		Body:       string(raw),
	}
}

func responseHeaders(correlationID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: correlationID,
	}
}

// correlationIDFrom honors a caller-provided correlation ID regardless of
// header casing, generating one otherwise.
func correlationIDFrom(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == correlationHeader && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
