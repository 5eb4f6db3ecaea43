package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"datachat-agent/internal/domain"
)

const (
	skPrefixTurn   = "TURN#"
	skPrefixExport = "EXPORT#"
	skMeta         = "META#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table as the durable conversation archive: one
// partition per session holding completed turns, exported transcripts and a
// metadata record. Live session state never lives here; the archive only
// receives what already happened.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new archive Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessPK returns the DynamoDB partition key for a session.
func sessPK(sessionID string) string {
	return "SESS#" + sessionID
}

// turnSK returns the sort key for a turn using the current UTC timestamp.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// exportSK returns the sort key for an exported transcript.
func exportSK(ts time.Time) string {
	return skPrefixExport + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// SaveCompletedTurn writes the turn record and the updated session metadata
// in one transaction, so the turn count never drifts from the turn items.
func (c *Client) SaveCompletedTurn(ctx context.Context, sessionID, queryText string, rowCount int, sources []string, turns int) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveCompletedTurn: session id is required")
	}

	turn := NewTurnRecord(sessionID, queryText, rowCount, sources)
	meta := NewSessionMeta(sessionID, turns)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(meta),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// ListRecentTurns queries the newest TURN# items for a session and returns
// them in chronological order.
func (c *Client) ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.TurnRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent turns.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentTurns query: %w", err)
	}

	turns := make([]domain.TurnRecord, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListRecentTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetSessionTurnCount returns the archived turn count for a session; zero
// when the session has never completed a turn.
func (c *Client) GetSessionTurnCount(ctx context.Context, sessionID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetSessionTurnCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return 0, fmt.Errorf("repository: GetSessionTurnCount decode turns: %w", err)
	}
	return turns, nil
}

// SaveTranscript archives an exported transcript body for a session.
func (c *Client) SaveTranscript(ctx context.Context, sessionID, body string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: SaveTranscript: session id is required")
	}

	rec := NewTranscriptRecord(sessionID, body)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      transcriptItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTranscript: %w", err)
	}
	return nil
}

// NewTurnRecord constructs a TurnRecord with PK/SK/TTL set from sessionID
// and the current time.
func NewTurnRecord(sessionID, queryText string, rowCount int, sources []string) domain.TurnRecord {
	now := time.Now().UTC()
	return domain.TurnRecord{
		PK:                sessPK(sessionID),
		SK:                turnSK(now),
		SessionID:         sessionID,
		QueryText:         queryText,
		RowCount:          rowCount,
		ReferencedSources: sources,
		TTL:               ttlValue(),
	}
}

// NewSessionMeta constructs a SessionMeta record.
func NewSessionMeta(sessionID string, turns int) domain.SessionMeta {
	return domain.SessionMeta{
		PK:           sessPK(sessionID),
		SK:           skMeta,
		SessionID:    sessionID,
		LastActivity: time.Now().UTC().Format(time.RFC3339),
		Turns:        turns,
		TTL:          ttlValue(),
	}
}

// NewTranscriptRecord constructs a TranscriptRecord.
func NewTranscriptRecord(sessionID, body string) domain.TranscriptRecord {
	now := time.Now().UTC()
	return domain.TranscriptRecord{
		PK:         sessPK(sessionID),
		SK:         exportSK(now),
		SessionID:  sessionID,
		Body:       body,
		ExportedAt: now.Format(time.RFC3339),
		TTL:        ttlValue(),
	}
}

// itemToTurn converts a DynamoDB attribute map to a TurnRecord.
func itemToTurn(item map[string]types.AttributeValue) (domain.TurnRecord, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	queryText, err := strAttr(item, "queryText")
	if err != nil {
		return domain.TurnRecord{}, err
	}
	sessionID, _ := strAttr(item, "sessionId") // allow empty
	rowCount, _ := intAttr(item, "rowCount")   // allow absent

	return domain.TurnRecord{
		PK:                pk,
		SK:                sk,
		SessionID:         sessionID,
		QueryText:         queryText,
		RowCount:          rowCount,
		ReferencedSources: listAttr(item, "referencedSources"),
	}, nil
}

func turnItem(turn domain.TurnRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                &types.AttributeValueMemberS{Value: turn.PK},
		"SK":                &types.AttributeValueMemberS{Value: turn.SK},
		"sessionId":         &types.AttributeValueMemberS{Value: turn.SessionID},
		"queryText":         &types.AttributeValueMemberS{Value: turn.QueryText},
		"rowCount":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.RowCount)},
		"referencedSources": sourcesAttr(turn.ReferencedSources),
		"ttl":               &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turn.TTL)},
	}
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":    &types.AttributeValueMemberS{Value: meta.SessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"turns":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.Turns)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", meta.TTL)},
	}
}

func transcriptItem(rec domain.TranscriptRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: rec.PK},
		"SK":         &types.AttributeValueMemberS{Value: rec.SK},
		"sessionId":  &types.AttributeValueMemberS{Value: rec.SessionID},
		"body":       &types.AttributeValueMemberS{Value: rec.Body},
		"exportedAt": &types.AttributeValueMemberS{Value: rec.ExportedAt},
		"ttl":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TTL)},
	}
}

func sourcesAttr(sources []string) types.AttributeValue {
	members := make([]types.AttributeValue, len(sources))
	for i, s := range sources {
		members[i] = &types.AttributeValueMemberS{Value: s}
	}
	return &types.AttributeValueMemberL{Value: members}
}

func listAttr(item map[string]types.AttributeValue, key string) []string {
	v, ok := item[key]
	if !ok {
		return nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, member := range l.Value {
		if s, ok := member.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
