package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"teams-answer-bot/internal/domain"
)

const (
	skPrefixFeedback = "FEEDBACK#"
	ttlDuration      = 180 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by FeedbackStore.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// FeedbackStore writes feedback into a single DynamoDB table keyed by conversation.
type FeedbackStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func NewFeedbackStore(api dynamodbAPI, tableName string) (*FeedbackStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &FeedbackStore{api: api, tableName: tableName, now: time.Now}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// feedbackSK sorts feedback chronologically within a conversation; the id
// keeps two submissions in the same instant apart.
func feedbackSK(ts time.Time, id string) string {
	return skPrefixFeedback + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// SaveFeedback writes one feedback record. Missing ids and timestamps are filled in.
func (s *FeedbackStore) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	if strings.TrimSpace(fb.ConversationID) == "" {
		return errors.New("repository: SaveFeedback: conversation id is required")
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = s.now()
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                feedbackItem(fb),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveFeedback: %w", err)
	}
	return nil
}

func feedbackItem(fb domain.Feedback) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(fb.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: feedbackSK(fb.CreatedAt, fb.ID)},
		"feedbackId":     &types.AttributeValueMemberS{Value: fb.ID},
		"conversationId": &types.AttributeValueMemberS{Value: fb.ConversationID},
		"userId":         &types.AttributeValueMemberS{Value: fb.UserID},
		"feedback":       &types.AttributeValueMemberS{Value: fb.Label},
		"feedbackText":   &types.AttributeValueMemberS{Value: fb.Text},
		"isWorkMode":     &types.AttributeValueMemberBOOL{Value: fb.IsWorkMode},
		"createdAt":      &types.AttributeValueMemberS{Value: fb.CreatedAt.UTC().Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(fb.CreatedAt.Add(ttlDuration).Unix(), 10)},
	}
}

// NopFeedbackStore logs feedback and drops it. It is used when no table is configured.
type NopFeedbackStore struct{}

func (NopFeedbackStore) SaveFeedback(ctx context.Context, fb domain.Feedback) error {
	slog.InfoContext(ctx, "feedback received (not persisted)",
		"conversation_id", fb.ConversationID,
		"feedback", fb.Label,
		"is_work_mode", fb.IsWorkMode,
	)
	return nil
}
