package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/inbound-coalescer/pkg/logging"
)

const chunkRecordTTL = 30 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// dynamoChunk is the table item: partition key sessionKey, sort key sortKey.
type dynamoChunk struct {
	DeliveredChunk
	SortKey   string `dynamodbav:"sortKey"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoChunkStore persists delivered chunks in DynamoDB with a TTL attribute.
type DynamoChunkStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

func NewDynamoChunkStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoChunkStore {
	if client == nil {
		panic("delivery: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("delivery: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoChunkStore{client: client, tableName: tableName, logger: logger}
}

var _ ChunkStore = (*DynamoChunkStore)(nil)

func (s *DynamoChunkStore) Record(ctx context.Context, chunk DeliveredChunk) error {
	if chunk.ID == "" {
		return errChunkIDRequired
	}
	item, err := attributevalue.MarshalMap(dynamoChunk{
		DeliveredChunk: chunk,
		SortKey:        chunkSortKey(chunk),
		ExpiresAt:      chunk.SentAt.Add(chunkRecordTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("delivery: marshal delivered chunk: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(chunkId)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			s.logger.Debug("delivered chunk already recorded", "chunk_id", chunk.ID)
			return nil
		}
		return fmt.Errorf("delivery: put delivered chunk: %w", err)
	}
	return nil
}

func (s *DynamoChunkStore) ListBySession(ctx context.Context, sessionKey string, limit int) ([]DeliveredChunk, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("sessionKey = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: sessionKey},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: query delivered chunks: %w", err)
	}

	var items []dynamoChunk
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("delivery: unmarshal delivered chunks: %w", err)
	}
	chunks := make([]DeliveredChunk, len(items))
	for i, item := range items {
		// query runs newest first; flip to oldest first
		chunks[len(items)-1-i] = item.DeliveredChunk
	}
	return chunks, nil
}

func chunkSortKey(c DeliveredChunk) string {
	return fmt.Sprintf("%020d#%04d", c.SentAt.UnixNano(), c.Sequence)
}
