// Package repository provides ConversationState stores: DynamoDB for
// serverless deployments, Badger for embedded durability, and an in-memory
// map for tests and the reference setup. All three share the same
// last-write-wins Put semantics.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"support-agent/internal/domain"
)

const (
	skState     = "STATE#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client stores one ConversationState document per user in a DynamoDB
// table. The whole state is one item so a turn's read-modify-write touches
// a single key.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// userPK returns the DynamoDB partition key for a user's conversation state.
func userPK(userID string) string {
	return "USER#" + userID
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// Get reads the state document for userID. ok is false when the user has
// no stored state yet.
func (c *Client) Get(ctx context.Context, userID string) (domain.ConversationState, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skState},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationState{}, false, nil
	}

	doc, err := strAttr(out.Item, "state")
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get decode: %w", err)
	}
	state, err := decodeState([]byte(doc))
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return state, true, nil
}

// Put writes the state document, replacing any previous version.
func (c *Client) Put(ctx context.Context, userID string, state domain.ConversationState) error {
	doc, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("repository: Put marshal: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK":        &types.AttributeValueMemberS{Value: skState},
			"userId":    &types.AttributeValueMemberS{Value: userID},
			"state":     &types.AttributeValueMemberS{Value: string(doc)},
			"updatedAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// encodeState serializes a state to its persisted JSON document. The
// transcript portion is the audit/export format and must round-trip
// losslessly.
func encodeState(state domain.ConversationState) ([]byte, error) {
	return json.Marshal(state)
}

func decodeState(doc []byte) (domain.ConversationState, error) {
	var state domain.ConversationState
	if err := json.Unmarshal(doc, &state); err != nil {
		return domain.ConversationState{}, err
	}
	return state, nil
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
