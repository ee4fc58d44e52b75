package state

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/haiha210/screenshot-service-be/internal/models"
)

type fakeDynamo struct {
	putIn    *dynamodb.PutItemInput
	updateIn *dynamodb.UpdateItemInput
	queryIn  *dynamodb.QueryInput
	putErr   error
	getIn    *dynamodb.GetItemInput
	getItem  map[string]types.AttributeValue
	getErr   error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	return &dynamodb.QueryOutput{}, nil
}

func TestDynamoCreateConditional(t *testing.T) {
	f := &fakeDynamo{}
	d := NewDynamo(f, "requests")
	ctx := context.Background()

	rec := models.RequestRecord{ID: "r1", URL: "https://example.com", Status: models.StatusProcessing}
	if err := d.Create(ctx, rec, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if f.putIn.ConditionExpression == nil || *f.putIn.ConditionExpression != "attribute_not_exists(id)" {
		t.Fatalf("missing conditional expression: %+v", f.putIn.ConditionExpression)
	}
	created, ok := f.putIn.Item["createdAt"].(*types.AttributeValueMemberS)
	if !ok {
		t.Fatalf("createdAt not stored as string: %T", f.putIn.Item["createdAt"])
	}
	if _, err := time.Parse(time.RFC3339, created.Value); err != nil {
		t.Fatalf("createdAt %q not RFC3339: %v", created.Value, err)
	}

	if err := d.Create(ctx, rec, false); err != nil {
		t.Fatalf("unconditional create: %v", err)
	}
	if f.putIn.ConditionExpression != nil {
		t.Fatalf("unexpected condition on unconditional create")
	}
}

func TestDynamoErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"conditional check", &types.ConditionalCheckFailedException{Message: aws.String("exists")}, ErrAlreadyExists},
		{"throughput", &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}, ErrThrottled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeDynamo{putErr: tc.err}
			d := NewDynamo(f, "requests")
			err := d.Create(context.Background(), models.RequestRecord{ID: "r1"}, true)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDynamoGetConsistentRead(t *testing.T) {
	f := &fakeDynamo{getItem: map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: "r1"},
		"status":    &types.AttributeValueMemberS{Value: "success"},
		"createdAt": &types.AttributeValueMemberS{Value: "2026-08-06T10:00:00Z"},
		"updatedAt": &types.AttributeValueMemberS{Value: "2026-08-06T10:01:00Z"},
	}}
	d := NewDynamo(f, "requests")

	rec, ok, err := d.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !aws.ToBool(f.getIn.ConsistentRead) {
		t.Fatalf("expected strongly consistent read")
	}
	if !ok || rec.Status != models.StatusSuccess {
		t.Fatalf("unexpected record %+v ok=%v", rec, ok)
	}
	if !rec.UpdatedAt.After(rec.CreatedAt) {
		t.Fatalf("timestamps not parsed: %+v", rec)
	}

	f.getItem = nil
	_, ok, err = d.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected miss without error, ok=%v err=%v", ok, err)
	}
}

func TestDynamoUpdateStatusExpression(t *testing.T) {
	f := &fakeDynamo{}
	d := NewDynamo(f, "requests")

	url := "https://bucket.s3.us-east-1.amazonaws.com/k"
	key := "k"
	if err := d.UpdateStatus(context.Background(), "r1", models.StatusSuccess, StatusPatch{ObjectURL: &url, ObjectKey: &key}); err != nil {
		t.Fatalf("update: %v", err)
	}
	expr := aws.ToString(f.updateIn.UpdateExpression)
	for _, want := range []string{"#status = :status", "updatedAt = :updatedAt", "objectUrl = :objectUrl", "objectKey = :objectKey"} {
		if !strings.Contains(expr, want) {
			t.Fatalf("expression %q missing %q", expr, want)
		}
	}
	if strings.Contains(expr, "errorMessage") {
		t.Fatalf("expression %q sets unpatched field", expr)
	}
	if f.updateIn.ExpressionAttributeNames["#status"] != "status" {
		t.Fatalf("status name not aliased: %+v", f.updateIn.ExpressionAttributeNames)
	}
}

func TestDynamoQueryByStatusUsesIndexDescending(t *testing.T) {
	f := &fakeDynamo{}
	d := NewDynamo(f, "requests")

	if _, err := d.QueryByStatus(context.Background(), models.StatusProcessing, 10); err != nil {
		t.Fatalf("query: %v", err)
	}
	if aws.ToString(f.queryIn.IndexName) != statusIndex {
		t.Fatalf("expected index %s, got %s", statusIndex, aws.ToString(f.queryIn.IndexName))
	}
	if f.queryIn.ScanIndexForward == nil || *f.queryIn.ScanIndexForward {
		t.Fatalf("expected descending scan")
	}
	if aws.ToInt32(f.queryIn.Limit) != 10 {
		t.Fatalf("expected limit 10, got %d", aws.ToInt32(f.queryIn.Limit))
	}
}
