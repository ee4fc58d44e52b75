package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

// statusIndex is the (status, createdAt) GSI the table must define.
const statusIndex = "status-createdAt-index"

// DynamoAPI is the slice of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo is the DynamoDB-backed record store.
type Dynamo struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamo(client DynamoAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table, now: time.Now}
}

// dynamoItem mirrors RequestRecord with timestamps as ISO-8601 strings so the
// createdAt range key sorts lexicographically in time order.
type dynamoItem struct {
	ID           string `dynamodbav:"id"`
	URL          string `dynamodbav:"url"`
	Status       string `dynamodbav:"status"`
	Width        int    `dynamodbav:"width"`
	Height       int    `dynamodbav:"height"`
	Format       string `dynamodbav:"format"`
	Quality      int    `dynamodbav:"quality"`
	FullPage     bool   `dynamodbav:"fullPage"`
	ObjectURL    string `dynamodbav:"objectUrl,omitempty"`
	ObjectKey    string `dynamodbav:"objectKey,omitempty"`
	ErrorMessage string `dynamodbav:"errorMessage,omitempty"`
	CreatedAt    string `dynamodbav:"createdAt"`
	UpdatedAt    string `dynamodbav:"updatedAt"`
}

func toItem(rec models.RequestRecord) dynamoItem {
	return dynamoItem{
		ID:           rec.ID,
		URL:          rec.URL,
		Status:       string(rec.Status),
		Width:        rec.Width,
		Height:       rec.Height,
		Format:       rec.Format,
		Quality:      rec.Quality,
		FullPage:     rec.FullPage,
		ObjectURL:    rec.ObjectURL,
		ObjectKey:    rec.ObjectKey,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func fromItem(it dynamoItem) models.RequestRecord {
	created, _ := time.Parse(time.RFC3339, it.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, it.UpdatedAt)
	return models.RequestRecord{
		ID:           it.ID,
		URL:          it.URL,
		Status:       models.Status(it.Status),
		Width:        it.Width,
		Height:       it.Height,
		Format:       it.Format,
		Quality:      it.Quality,
		FullPage:     it.FullPage,
		ObjectURL:    it.ObjectURL,
		ObjectKey:    it.ObjectKey,
		ErrorMessage: it.ErrorMessage,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
}

func (d *Dynamo) Create(ctx context.Context, rec models.RequestRecord, onlyIfAbsent bool) error {
	now := d.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}
	if onlyIfAbsent {
		in.ConditionExpression = aws.String("attribute_not_exists(id)")
	}
	if _, err := d.client.PutItem(ctx, in); err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, mapError(err))
	}
	return nil
}

func (d *Dynamo) Get(ctx context.Context, id string) (models.RequestRecord, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            recordKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.RequestRecord{}, false, fmt.Errorf("get record %s: %w", id, mapError(err))
	}
	if len(out.Item) == 0 {
		return models.RequestRecord{}, false, nil
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return models.RequestRecord{}, false, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return fromItem(it), true, nil
}

func (d *Dynamo) UpdateStatus(ctx context.Context, id string, status models.Status, patch StatusPatch) error {
	expr := "SET #status = :status, updatedAt = :updatedAt"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(status)},
		":updatedAt": &types.AttributeValueMemberS{Value: d.now().UTC().Format(time.RFC3339)},
	}
	if patch.Width != nil {
		expr += ", width = :width"
		values[":width"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *patch.Width)}
	}
	if patch.Height != nil {
		expr += ", height = :height"
		values[":height"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *patch.Height)}
	}
	if patch.Format != nil {
		expr += ", #format = :format"
		names["#format"] = "format"
		values[":format"] = &types.AttributeValueMemberS{Value: *patch.Format}
	}
	if patch.ObjectURL != nil {
		expr += ", objectUrl = :objectUrl"
		values[":objectUrl"] = &types.AttributeValueMemberS{Value: *patch.ObjectURL}
	}
	if patch.ObjectKey != nil {
		expr += ", objectKey = :objectKey"
		values[":objectKey"] = &types.AttributeValueMemberS{Value: *patch.ObjectKey}
	}
	if patch.ErrorMessage != nil {
		expr += ", errorMessage = :errorMessage"
		values[":errorMessage"] = &types.AttributeValueMemberS{Value: *patch.ErrorMessage}
	}
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       recordKey(id),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update record %s to %s: %w", id, status, mapError(err))
	}
	return nil
}

func (d *Dynamo) QueryByStatus(ctx context.Context, status models.Status, limit int) ([]models.RequestRecord, error) {
	if limit <= 0 {
		limit = 25
	}
	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(d.table),
		IndexName:                aws.String(statusIndex),
		KeyConditionExpression:   aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query status %s: %w", status, mapError(err))
	}
	var items []dynamoItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal status %s query: %w", status, err)
	}
	recs := make([]models.RequestRecord, 0, len(items))
	for _, it := range items {
		recs = append(recs, fromItem(it))
	}
	return recs, nil
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// mapError folds backend errors into the package sentinels.
func mapError(err error) error {
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return ErrAlreadyExists
	}
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return ErrThrottled
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded", "LimitExceededException":
			return ErrThrottled
		}
	}
	return err
}
