package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

const (
	storeName     = "dynamodb"
	pkPrefix      = "SESSION#"
	skPrefixMsg   = "MSG#"
	ttlDuration   = 30 * 24 * time.Hour
	batchSize     = 25
	maxBatchTry   = 5
	sortKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores conversation messages in a single DynamoDB table, one
// partition per session.
type Client struct {
	api       dynamodbAPI
	tableName string
	metrics   *metrics.Metrics
	newID     func() string
	now       func() time.Time
	backoff   time.Duration
}

type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		newID:     uuid.NewString,
		now:       time.Now,
		backoff:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sessionPK(sessionID string) string {
	return pkPrefix + sessionID
}

// msgSK orders messages by time. The fixed-width layout keeps lexical and
// chronological order equal; the id breaks ties.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(sortKeyLayout) + "#" + id
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Append writes one message and returns it with its new ID.
func (c *Client) Append(ctx context.Context, msg domain.Message) (stored domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_append", err) }()
	if err := msg.Validate(); err != nil {
		return domain.Message{}, err
	}
	msg.ID = c.newID()

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: Append: %w", err)
	}
	return msg, nil
}

// AppendTurn writes the user message and the reply in one transaction.
func (c *Client) AppendTurn(ctx context.Context, user, assistant domain.Message) (u, a domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_append_turn", err) }()
	if err := user.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	if err := assistant.Validate(); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	user.ID, assistant.ID = c.newID(), c.newID()

	put := func(m domain.Message) types.TransactWriteItem {
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                c.messageItem(m),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		}}
	}
	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{put(user), put(assistant)},
	})
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return user, assistant, nil
}

// queryLimit clamps a positive count to the int32 Query limit.
func queryLimit(count int) int32 {
	if count > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(count)
}

// Recent returns the newest count messages in chronological order.
func (c *Client) Recent(ctx context.Context, sessionID string, count int) (msgs []domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_recent", err) }()
	if count <= 0 {
		return c.all(ctx, sessionID)
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: sessionKeyValues(sessionID),
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(queryLimit(count)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Recent query: %w", err)
	}

	msgs = make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Recent unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// History returns the last limit messages, or the whole session when limit <= 0.
func (c *Client) History(ctx context.Context, sessionID string, limit int) (msgs []domain.Message, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_read", err) }()
	msgs, err = c.all(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return domain.RecentWindow(msgs, limit), nil
}

func (c *Client) all(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := c.eachPage(ctx, sessionID, "", func(items []map[string]types.AttributeValue) error {
		for _, item := range items {
			msg, err := itemToMessage(item)
			if err != nil {
				return fmt.Errorf("repository: History unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

// Purge deletes every message of the session and returns how many it removed.
func (c *Client) Purge(ctx context.Context, sessionID string) (n int, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "history_purge", err) }()

	var keys []map[string]types.AttributeValue
	err = c.eachPage(ctx, sessionID, "PK, SK", func(items []map[string]types.AttributeValue) error {
		for _, item := range items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		if err := c.deleteBatch(ctx, keys[start:end]); err != nil {
			return n, err
		}
		n += end - start
	}
	return n, nil
}

func (c *Client) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) error {
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}

	for attempt := 1; len(reqs) > 0; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: reqs},
		})
		if err != nil {
			return fmt.Errorf("repository: Purge batch delete: %w", err)
		}
		if out == nil {
			return nil
		}
		reqs = out.UnprocessedItems[c.tableName]
		if len(reqs) == 0 {
			return nil
		}
		if attempt >= maxBatchTry {
			return fmt.Errorf("repository: Purge: %d deletes still unprocessed after %d attempts", len(reqs), attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return nil
}

// eachPage walks the session partition oldest first.
func (c *Client) eachPage(ctx context.Context, sessionID, projection string, fn func([]map[string]types.AttributeValue) error) error {
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(c.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: sessionKeyValues(sessionID),
		ScanIndexForward:          aws.Bool(true),
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return fmt.Errorf("repository: query session: %w", err)
		}
		if err := fn(out.Items); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func sessionKeyValues(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
	}
}

func (c *Client) messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":        &types.AttributeValueMemberS{Value: msg.ID},
		"sessionId": &types.AttributeValueMemberS{Value: msg.SessionID},
		"role":      &types.AttributeValueMemberS{Value: string(msg.Role)},
		"text":      &types.AttributeValueMemberS{Value: msg.Text},
		"timestamp": &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	session, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	rawTS, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: parse timestamp: %w", err)
	}
	role, _ := strAttr(item, "role") // unknown roles read as user

	return domain.Message{
		ID:        id,
		SessionID: session,
		Role:      domain.NormalizeRole(role),
		Text:      text,
		Timestamp: ts,
	}, nil
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
