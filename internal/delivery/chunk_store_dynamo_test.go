package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockDynamo struct {
	putInputs  []*dynamodb.PutItemInput
	putErr     error
	queryInput *dynamodb.QueryInput
	queryOut   *dynamodb.QueryOutput
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInputs = append(m.putInputs, in)
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInput = in
	return m.queryOut, nil
}

func TestDynamoChunkStore_Record(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoChunkStore(mock, "delivered_chunks", nil)
	sentAt := time.Unix(1700000000, 0).UTC()

	err := store.Record(context.Background(), DeliveredChunk{
		ID: "c1", SessionKey: "chat:1", Sequence: 2, Total: 3, Text: "oi", TransportMessageID: "m1", SentAt: sentAt,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(mock.putInputs) != 1 {
		t.Fatalf("expected PutItem call")
	}
	in := mock.putInputs[0]
	if aws.ToString(in.ConditionExpression) != "attribute_not_exists(chunkId)" {
		t.Fatalf("unexpected condition %q", aws.ToString(in.ConditionExpression))
	}

	var stored dynamoChunk
	if err := attributevalue.UnmarshalMap(in.Item, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored.ID != "c1" || stored.SessionKey != "chat:1" || stored.Sequence != 2 {
		t.Fatalf("unexpected item %#v", stored)
	}
	if stored.ExpiresAt != sentAt.Add(chunkRecordTTL).Unix() {
		t.Fatalf("unexpected ttl %d", stored.ExpiresAt)
	}
	if stored.SortKey == "" {
		t.Fatalf("expected sort key")
	}
}

func TestDynamoChunkStore_DuplicateIsNotAnError(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	store := NewDynamoChunkStore(mock, "delivered_chunks", nil)
	if err := store.Record(context.Background(), DeliveredChunk{ID: "c1", SessionKey: "s"}); err != nil {
		t.Fatalf("expected duplicate to be ignored, got %v", err)
	}
}

func TestDynamoChunkStore_ListBySession(t *testing.T) {
	sentAt := time.Unix(1700000000, 0).UTC()
	newest, _ := attributevalue.MarshalMap(dynamoChunk{DeliveredChunk: DeliveredChunk{ID: "c2", SessionKey: "s", Sequence: 2, SentAt: sentAt.Add(time.Second)}})
	oldest, _ := attributevalue.MarshalMap(dynamoChunk{DeliveredChunk: DeliveredChunk{ID: "c1", SessionKey: "s", Sequence: 1, SentAt: sentAt}})
	mock := &mockDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{newest, oldest}}}

	got, err := NewDynamoChunkStore(mock, "delivered_chunks", nil).ListBySession(context.Background(), "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c2" {
		t.Fatalf("expected oldest first, got %#v", got)
	}
	if aws.ToInt32(mock.queryInput.Limit) != 10 || aws.ToBool(mock.queryInput.ScanIndexForward) {
		t.Fatalf("unexpected query input %#v", mock.queryInput)
	}
}
