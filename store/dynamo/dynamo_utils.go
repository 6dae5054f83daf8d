package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/boardsync/store"
)

// DynamoDB caps BatchWriteItem at 25 requests and BatchGetItem at 100 keys.
const (
	maxBatchWrite = 25
	maxBatchGet   = 100
)

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if devMode {
		// Local/dev: dummy credentials against a local endpoint
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(dynamodbEndpoint)
		}), nil
	}

	// Production: default chain (task role, AWS endpoints)
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	var tables []string
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		tables = append(tables, page.TableNames...)
	}
	return tables, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem retrieves an item of type T by PK and SK.
func getItem[T any](dynamoStore *DynamoStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

func marshalKeyed[T any](item T) (map[string]types.AttributeValue, error) {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return nil, errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return nil, errors.New("struct missing SK field")
	}
	return avMap, nil
}

// putItemIfAbsent writes item only if no item with its PK+SK exists.
// It reports whether the item was written; an existing item is not an error.
func putItemIfAbsent[T any](dynamoStore *DynamoStore, ctx context.Context, item T) (bool, error) {
	avMap, err := marshalKeyed(item)
	if err != nil {
		return false, err
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return false, nil
		}
		return false, fmt.Errorf("failed to put item: %w", err)
	}

	return true, nil
}

// putItem writes item unconditionally, replacing any existing item.
func putItem[T any](dynamoStore *DynamoStore, ctx context.Context, item T) error {
	avMap, err := marshalKeyed(item)
	if err != nil {
		return err
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Item:      avMap,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// queryItemsByPK returns the raw items under pk whose SK starts with skPrefix
// (all items when skPrefix is empty), ordered by SK.
func queryItemsByPK(dynamoStore *DynamoStore, ctx context.Context, pk string, skPrefix string, consistentRead bool) ([]map[string]types.AttributeValue, error) {
	var results []map[string]types.AttributeValue

	keyCond := "PK = :pk"
	exprAttrValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skPrefix != "" {
		keyCond += " AND begins_with(SK, :sk)"
		exprAttrValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, &dynamodb.QueryInput{
		TableName:                 aws.String(dynamoStore.tableName),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: exprAttrValues,
		ConsistentRead:            aws.Bool(consistentRead),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		results = append(results, page.Items...)
	}

	return results, nil
}

// batchGetItems fetches the items for keys, retrying unprocessed keys.
// Missing items are skipped.
func batchGetItems[T any](dynamoStore *DynamoStore, ctx context.Context, keys []map[string]types.AttributeValue) ([]T, error) {
	var results []T

	for start := 0; start < len(keys); start += maxBatchGet {
		end := min(start+maxBatchGet, len(keys))
		pending := keys[start:end]
		backoff := 50 * time.Millisecond

		for len(pending) > 0 {
			resp, err := dynamoStore.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					dynamoStore.tableName: {Keys: pending},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("BatchGetItem failed: %w", err)
			}

			var items []T
			if err := attributevalue.UnmarshalListOfMaps(resp.Responses[dynamoStore.tableName], &items); err != nil {
				return nil, fmt.Errorf("failed to unmarshal batch items: %w", err)
			}
			results = append(results, items...)

			pending = resp.UnprocessedKeys[dynamoStore.tableName].Keys
			if len(pending) == 0 {
				break
			}
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			if backoff < time.Second {
				backoff *= 2
			}
		}
	}

	return results, nil
}

// writeBatchRequests sends up to 25 Put or Delete requests, retrying
// unprocessed items with backoff until they succeed or ctx ends.
func writeBatchRequests(dynamoStore *DynamoStore, ctx context.Context, requests []types.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	backoff := 50 * time.Millisecond

	for {
		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		requests = resp.UnprocessedItems[dynamoStore.tableName]
		if len(requests) == 0 {
			return nil
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return fmt.Errorf("%d unprocessed writes: %w", len(requests), err)
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// batchDeleteByPrefix deletes every item under pk whose SK starts with
// skPrefix, in 25-item batches.
func batchDeleteByPrefix(dynamoStore *DynamoStore, ctx context.Context, pk string, skPrefix string) error {
	items, err := queryItemsByPK(dynamoStore, ctx, pk, skPrefix, true)
	if err != nil {
		return err
	}

	delRequests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		pkAttr, okPK := item["PK"]
		skAttr, okSK := item["SK"]
		if !okPK || !okSK {
			continue
		}
		delRequests = append(delRequests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{"PK": pkAttr, "SK": skAttr},
			},
		})
	}

	for i := 0; i < len(delRequests); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(delRequests))
		if err := writeBatchRequests(dynamoStore, ctx, delRequests[i:end]); err != nil {
			return fmt.Errorf("batch delete failed: %w", err)
		}
	}

	return nil
}

// updateItem updates the listed fields of an existing item. A listed field
// that is absent from the marshaled item (omitempty) is removed. Returns
// store.ErrItemNotFound if the item does not exist.
func updateItem[T any](dynamoStore *DynamoStore, ctx context.Context, item T, fieldsToUpdate []string) error {
	avMap, err := marshalKeyed(item)
	if err != nil {
		return err
	}

	var setExprs, removeExprs []string
	exprAttrValues := make(map[string]types.AttributeValue)
	exprAttrNames := make(map[string]string)

	for _, field := range fieldsToUpdate {
		// Never update keys
		if field == "PK" || field == "SK" {
			continue
		}

		exprAttrNames["#"+field] = field
		if val, ok := avMap[field]; ok {
			setExprs = append(setExprs, fmt.Sprintf("#%s = :%s", field, field))
			exprAttrValues[":"+field] = val
		} else {
			removeExprs = append(removeExprs, "#"+field)
		}
	}

	if len(setExprs) == 0 && len(removeExprs) == 0 {
		return errors.New("no fields to update")
	}

	updateExpr := ""
	if len(setExprs) > 0 {
		updateExpr = "SET " + strings.Join(setExprs, ", ")
	}
	if len(removeExprs) > 0 {
		if updateExpr != "" {
			updateExpr += " "
		}
		updateExpr += "REMOVE " + strings.Join(removeExprs, ", ")
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                aws.String(dynamoStore.tableName),
		Key:                      map[string]types.AttributeValue{"PK": avMap["PK"], "SK": avMap["SK"]},
		UpdateExpression:         aws.String(updateExpr),
		ExpressionAttributeNames: exprAttrNames,
		ConditionExpression:      aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
	}
	if len(exprAttrValues) > 0 {
		input.ExpressionAttributeValues = exprAttrValues
	}

	if _, err := dynamoStore.client.UpdateItem(ctx, input); err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrItemNotFound
		}
		return fmt.Errorf("update failed: %w", err)
	}

	return nil
}
