package repository

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"chat-relay/internal/domain"
)

const (
	attrPK        = "PK"
	attrSK        = "SK"
	attrTurns     = "turns"
	attrRole      = "role"
	attrText      = "text"
	attrUpdatedAt = "updatedAt"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores history documents in a DynamoDB table. The collection is the
// partition key and the document key is the sort key, so listing a user's
// daily buckets is a single-partition query.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*Client)(nil)

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func (c *Client) primaryKey(collection, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: collection},
		attrSK: &types.AttributeValueMemberS{Value: key},
	}
}

// Get reads the history stored at (collection, key). A missing item is
// reported with ok=false and no error.
func (c *Client) Get(ctx context.Context, collection, key string) (domain.History, bool, error) {
	if err := validateAddress(collection, key); err != nil {
		return nil, false, errors.Wrap(err, "repository: Get")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.primaryKey(collection, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "repository: Get get item")
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	history, err := itemToHistory(out.Item)
	if err != nil {
		return nil, false, errors.Wrap(err, "repository: Get decode")
	}
	return history, true, nil
}

// Put overwrites the history stored at (collection, key).
func (c *Client) Put(ctx context.Context, collection, key string, history domain.History) error {
	if err := validateAddress(collection, key); err != nil {
		return errors.Wrap(err, "repository: Put")
	}

	item := c.primaryKey(collection, key)
	item[attrTurns] = turnsAttr(history)
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return errors.Wrap(err, "repository: Put")
	}
	return nil
}

// Delete removes the document at (collection, key). Deleting a missing item
// is not an error.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	if err := validateAddress(collection, key); err != nil {
		return errors.Wrap(err, "repository: Delete")
	}

	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.primaryKey(collection, key),
	})
	if err != nil {
		return errors.Wrap(err, "repository: Delete")
	}
	return nil
}

// ListKeys returns every document key stored under collection, following
// query pagination until exhausted.
func (c *Client) ListKeys(ctx context.Context, collection string) ([]string, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: ListKeys: collection is required")
	}

	var (
		keys  []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: collection},
			},
			ProjectionExpression: aws.String(attrSK),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return nil, errors.Wrap(err, "repository: ListKeys query")
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, attrSK)
			if err != nil {
				return nil, errors.Wrap(err, "repository: ListKeys")
			}
			keys = append(keys, sk)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		start = out.LastEvaluatedKey
	}
}

func turnsAttr(history domain.History) *types.AttributeValueMemberL {
	return &types.AttributeValueMemberL{Value: lo.Map(history, func(t domain.Turn, _ int) types.AttributeValue {
		return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			attrRole: &types.AttributeValueMemberS{Value: string(t.Role)},
			attrText: &types.AttributeValueMemberS{Value: t.Text},
		}}
	})}
}

// itemToHistory converts a DynamoDB attribute map to a History.
func itemToHistory(item map[string]types.AttributeValue) (domain.History, error) {
	v, ok := item[attrTurns]
	if !ok {
		return domain.History{}, nil
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.Newf("repository: attribute %q is not a list", attrTurns)
	}

	history := make(domain.History, 0, len(list.Value))
	for i, el := range list.Value {
		m, ok := el.(*types.AttributeValueMemberM)
		if !ok {
			return nil, errors.Newf("repository: turn %d is not a map", i)
		}
		role, err := strAttr(m.Value, attrRole)
		if err != nil {
			return nil, errors.Wrapf(err, "turn %d", i)
		}
		text, err := strAttr(m.Value, attrText)
		if err != nil {
			return nil, errors.Wrapf(err, "turn %d", i)
		}
		history = append(history, domain.Turn{Role: domain.Role(role), Text: text})
	}
	return history, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", errors.Newf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.Newf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
