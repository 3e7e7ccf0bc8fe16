package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/example/market-settlement/internal/domain/stock"
)

// DynamoStockStore backs the stock counters with a DynamoDB table. Reserve
// uses a conditional update so the quantity check and the decrement are one
// atomic write.
type DynamoStockStore struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoStockRecord represents the DynamoDB item structure
type dynamoStockRecord struct {
	ProductID string `dynamodbav:"product_id"`
	Quantity  int    `dynamodbav:"quantity"`
	Price     int    `dynamodbav:"price"`
}

func NewDynamoStockStore(client *dynamodb.Client, tableName string) *DynamoStockStore {
	return &DynamoStockStore{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoStockStore) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET quantity = quantity - :q"),
		ConditionExpression: aws.String("attribute_exists(product_id) AND quantity >= :q"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
		},
	})
	if err == nil {
		return nil
	}

	var condFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &condFailed) {
		return fmt.Errorf("reserve stock: %w", err)
	}

	// Distinguish a missing product from an insufficient counter.
	rec, gerr := s.Get(ctx, productID)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("%w: product %s (requested %d, available %d)",
		stock.ErrInsufficientStock, productID, qty, rec.Quantity)
}

func (s *DynamoStockStore) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		UpdateExpression:    aws.String("SET quantity = quantity + :q"),
		ConditionExpression: aws.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": &types.AttributeValueMemberN{Value: strconv.Itoa(qty)},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
		}
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

func (s *DynamoStockStore) Get(ctx context.Context, productID string) (stock.Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
	})
	if err != nil {
		return stock.Record{}, fmt.Errorf("get stock: %w", err)
	}
	if result.Item == nil {
		return stock.Record{}, fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
	}

	var rec dynamoStockRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return stock.Record{}, fmt.Errorf("unmarshal stock record: %w", err)
	}
	return stock.Record{ProductID: rec.ProductID, Quantity: rec.Quantity, Price: rec.Price}, nil
}

func (s *DynamoStockStore) Put(ctx context.Context, rec stock.Record) error {
	av, err := attributevalue.MarshalMap(dynamoStockRecord{
		ProductID: rec.ProductID,
		Quantity:  rec.Quantity,
		Price:     rec.Price,
	})
	if err != nil {
		return fmt.Errorf("marshal stock record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put stock record: %w", err)
	}
	return nil
}
