package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"codemate-api/internal/domain"
)

const (
	pkPrefixUser   = "USER#"
	skPrefixConv   = "CONV#"
	skMsgInfix     = "#MSG#"
	updatedAtIndex = "ownerUpdatedAt"

	itemTypeConversation = "conversation"
	itemTypeMessage      = "message"

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	previewRunes      = 200
	maxTransactItems  = 100
	maxBatchWrite     = 25
	maxBatchAttempts  = 3
	batchRetryBackoff = 50 * time.Millisecond
)

// ErrNotFound is returned when a conversation does not exist for the given
// owner. It wraps domain.ErrConversationNotFound.
var ErrNotFound = fmt.Errorf("repository: %w", domain.ErrConversationNotFound)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores conversations of an owner in one partition: a meta item per
// conversation plus one item per message.
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

// ownerPK returns the partition key holding every conversation of an owner.
func ownerPK(ownerID string) string {
	return pkPrefixUser + ownerID
}

// convSK is the sort key of the conversation meta item.
func convSK(conversationID string) string {
	return skPrefixConv + conversationID
}

// msgPrefix is shared by every message item of a conversation.
func msgPrefix(conversationID string) string {
	return convSK(conversationID) + skMsgInfix
}

// msgSK orders messages by creation time, then by position.
func msgSK(conversationID string, ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%06d", msgPrefix(conversationID), formatTime(ts), seq)
}

func itemKey(ownerID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

// ListSummaries returns id, title and creation time of every conversation
// owned by ownerID, newest first. Only meta items carry updatedAt, so the
// index holds nothing else.
func (c *Client) ListSummaries(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(updatedAtIndex),
		KeyConditionExpression: aws.String("PK = :pk"),
		ProjectionExpression:   aws.String("#id, #title, #createdAt"),
		ExpressionAttributeNames: map[string]string{
			"#id":        "conversationId",
			"#title":     "title",
			"#createdAt": "createdAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
		},
	}

	var out []domain.ConversationSummary
	for {
		page, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSummaries query: %w", err)
		}
		for _, item := range page.Items {
			s, err := itemToSummary(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListSummaries unmarshal: %w", err)
			}
			out = append(out, s)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetByID loads a conversation with all of its messages in order.
// ErrNotFound is returned when it does not exist or belongs to another owner.
func (c *Client) GetByID(ctx context.Context, ownerID, conversationID string) (domain.Conversation, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :conv)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
			":conv": &types.AttributeValueMemberS{Value: convSK(conversationID)},
		},
		ConsistentRead: aws.Bool(true),
	}

	metaK, msgK := convSK(conversationID), msgPrefix(conversationID)
	var meta map[string]types.AttributeValue
	msgs := []domain.Message{}
	for {
		page, err := c.api.Query(ctx, in)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: GetByID query: %w", err)
		}
		for _, item := range page.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return domain.Conversation{}, fmt.Errorf("repository: GetByID unmarshal: %w", err)
			}
			switch {
			case sk == metaK:
				meta = item
			case strings.HasPrefix(sk, msgK):
				m, err := itemToMessage(item)
				if err != nil {
					return domain.Conversation{}, fmt.Errorf("repository: GetByID unmarshal %s: %w", sk, err)
				}
				msgs = append(msgs, m)
			}
			// Anything else belongs to a conversation whose id merely starts with conversationID.
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}

	if meta == nil {
		return domain.Conversation{}, ErrNotFound
	}
	conv, err := itemToConversation(meta)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetByID unmarshal: %w", err)
	}
	conv.Messages = msgs
	return conv, nil
}

// RecentExcluding returns up to limit conversation previews of ownerID ordered
// by most recent update, skipping excludeID. Only the meta attributes are read.
func (c *Client) RecentExcluding(ctx context.Context, ownerID, excludeID string, limit int) ([]domain.ConversationPreview, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(updatedAtIndex),
		KeyConditionExpression: aws.String("PK = :pk"),
		ProjectionExpression:   aws.String("#id, #title, #updatedAt, #lastSender, #lastContent, #lastCreatedAt"),
		ExpressionAttributeNames: map[string]string{
			"#id":            "conversationId",
			"#title":         "title",
			"#updatedAt":     "updatedAt",
			"#lastSender":    "lastSender",
			"#lastContent":   "lastContent",
			"#lastCreatedAt": "lastCreatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
		},
		// Newest update first; one extra item covers the excluded conversation.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit + 1)),
	}

	previews := make([]domain.ConversationPreview, 0, limit)
	for {
		page, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentExcluding query: %w", err)
		}
		for _, item := range page.Items {
			p, err := itemToPreview(item)
			if err != nil {
				return nil, fmt.Errorf("repository: RecentExcluding unmarshal: %w", err)
			}
			if p.ID == excludeID {
				continue
			}
			previews = append(previews, p)
			if len(previews) == limit {
				return previews, nil
			}
		}
		if len(page.LastEvaluatedKey) == 0 {
			return previews, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// UpsertAppend creates or replaces the conversation meta item and writes the
// appended messages in the same transaction, so either all of them land or
// none do. appended must be the tail of conv.Messages.
func (c *Client) UpsertAppend(ctx context.Context, conv domain.Conversation, appended []domain.Message) error {
	if conv.ID == "" || conv.OwnerID == "" {
		return errors.New("repository: UpsertAppend: conversation id and owner are required")
	}
	base := len(conv.Messages) - len(appended)
	if base < 0 {
		return errors.New("repository: UpsertAppend: appended messages exceed the conversation")
	}
	if len(appended)+1 > maxTransactItems {
		return fmt.Errorf("repository: UpsertAppend: at most %d messages per call", maxTransactItems-1)
	}

	items := make([]types.TransactWriteItem, 0, len(appended)+1)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item:      metaItem(conv),
		},
	})
	for i, m := range appended {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(conv, m, base+i),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return fmt.Errorf("repository: UpsertAppend: %w", err)
	}
	return nil
}

// Delete permanently removes a conversation and its messages. The meta item
// goes first, so a partially failed delete never leaves a visible
// conversation with missing messages.
func (c *Client) Delete(ctx context.Context, ownerID, conversationID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(ownerID, convSK(conversationID)),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: Delete: %w", err)
	}

	keys, err := c.messageKeys(ctx, ownerID, conversationID)
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		if err := c.deleteBatch(ctx, keys[start:end]); err != nil {
			return fmt.Errorf("repository: Delete: %w", err)
		}
	}
	return nil
}

func (c *Client) messageKeys(ctx context.Context, ownerID, conversationID string) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ProjectionExpression:   aws.String("PK, SK"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
			":prefix": &types.AttributeValueMemberS{Value: msgPrefix(conversationID)},
		},
	}
	var keys []map[string]types.AttributeValue
	for {
		page, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query message keys: %w", err)
		}
		for _, item := range page.Items {
			keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		}
		if len(page.LastEvaluatedKey) == 0 {
			return keys, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func (c *Client) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) error {
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}
	pending := map[string][]types.WriteRequest{c.tableName: reqs}

	for attempt := 1; ; attempt++ {
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch delete messages: %w", err)
		}
		if out == nil || len(out.UnprocessedItems[c.tableName]) == 0 {
			return nil
		}
		if attempt == maxBatchAttempts {
			return fmt.Errorf("batch delete messages: %d items left unprocessed", len(out.UnprocessedItems[c.tableName]))
		}
		pending = out.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * batchRetryBackoff):
		}
	}
}

func metaItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := itemKey(conv.OwnerID, convSK(conv.ID))
	item["itemType"] = &types.AttributeValueMemberS{Value: itemTypeConversation}
	item["conversationId"] = &types.AttributeValueMemberS{Value: conv.ID}
	item["ownerId"] = &types.AttributeValueMemberS{Value: conv.OwnerID}
	item["title"] = &types.AttributeValueMemberS{Value: conv.Title}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: formatTime(conv.UpdatedAt)}
	item["messageCount"] = &types.AttributeValueMemberN{Value: strconv.Itoa(len(conv.Messages))}
	if last, ok := conv.LastMessage(); ok {
		item["lastSender"] = &types.AttributeValueMemberS{Value: string(last.Sender)}
		item["lastContent"] = &types.AttributeValueMemberS{Value: truncateRunes(last.Content, previewRunes)}
		item["lastCreatedAt"] = &types.AttributeValueMemberS{Value: formatTime(last.CreatedAt)}
	}
	return item
}

func messageItem(conv domain.Conversation, m domain.Message, seq int) map[string]types.AttributeValue {
	item := itemKey(conv.OwnerID, msgSK(conv.ID, m.CreatedAt, seq))
	item["itemType"] = &types.AttributeValueMemberS{Value: itemTypeMessage}
	item["conversationId"] = &types.AttributeValueMemberS{Value: conv.ID}
	item["sender"] = &types.AttributeValueMemberS{Value: string(m.Sender)}
	item["content"] = &types.AttributeValueMemberS{Value: m.Content}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(m.CreatedAt)}
	item["seq"] = &types.AttributeValueMemberN{Value: strconv.Itoa(seq)}
	return item
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	return domain.ConversationSummary{ID: id, Title: title, CreatedAt: createdAt}, nil
}

func itemToPreview(item map[string]types.AttributeValue) (domain.ConversationPreview, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationPreview{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.ConversationPreview{}, err
	}
	p := domain.ConversationPreview{ID: id, Title: title, UpdatedAt: updatedAt}

	sender, err := strAttr(item, "lastSender")
	if err != nil {
		// No messages yet.
		return p, nil
	}
	content, _ := strAttr(item, "lastContent") // allow empty
	last := domain.Message{Sender: domain.Sender(sender), Content: content}
	if at, err := timeAttr(item, "lastCreatedAt"); err == nil {
		last.CreatedAt = at
	}
	p.Last = &last
	return p, nil
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	owner, err := strAttr(item, "ownerId")
	if err != nil {
		return domain.Conversation{}, err
	}
	title, _ := strAttr(item, "title") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ID:        id,
		OwnerID:   owner,
		Title:     title,
		Messages:  []domain.Message{},
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		Sender:    domain.Sender(sender),
		Content:   content,
		CreatedAt: createdAt,
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
