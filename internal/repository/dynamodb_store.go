package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const skBlob = "BLOB#"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps each key as a single item in a DynamoDB table with a
// PK/SK key schema.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a new DynamoDB-backed store.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// kvPK returns the partition key for a stored blob.
func kvPK(key string) string {
	return "KV#" + key
}

func (d *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: kvPK(key)},
		"SK": &types.AttributeValueMemberS{Value: skBlob},
	}
}

// Read fetches the blob with a strongly consistent read.
func (d *DynamoStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := validKey(key)
	if err != nil {
		return nil, false, err
	}
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: Read get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}
	value, err := binaryAttr(out.Item, "value")
	if err != nil {
		return nil, false, fmt.Errorf("repository: Read decode value: %w", err)
	}
	return value, true, nil
}

// Write replaces the blob.
func (d *DynamoStore) Write(ctx context.Context, key string, value []byte) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	item := d.itemKey(key)
	item["value"] = &types.AttributeValueMemberB{Value: value}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Write: %w", err)
	}
	return nil
}

func binaryAttr(item map[string]types.AttributeValue, key string) ([]byte, error) {
	v, ok := item[key]
	if !ok {
		return nil, fmt.Errorf("repository: missing attribute %q", key)
	}
	switch b := v.(type) {
	case *types.AttributeValueMemberB:
		return b.Value, nil
	case *types.AttributeValueMemberS:
		// Blobs written by hand through the console arrive as strings.
		return []byte(b.Value), nil
	default:
		return nil, fmt.Errorf("repository: attribute %q is not binary", key)
	}
}
