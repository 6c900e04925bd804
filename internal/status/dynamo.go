package status

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by Dynamo.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Dynamo updates job items keyed by "id".
type Dynamo struct {
	client    DynamoAPI
	tableName string
}

var _ Writer = (*Dynamo)(nil)

// NewDynamo writes to tableName.
func NewDynamo(client DynamoAPI, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName}
}

type dynamoValues struct {
	Status     string `dynamodbav:":s"`
	UpdatedAt  string `dynamodbav:":u"`
	SummaryKey string `dynamodbav:":f,omitempty"`
}

func (d *Dynamo) Name() string { return "dynamodb" }

func (d *Dynamo) Write(ctx context.Context, u Update) error {
	values, err := attributevalue.MarshalMap(dynamoValues{
		Status:     string(u.Status),
		UpdatedAt:  u.At.Format(time.RFC3339Nano),
		SummaryKey: u.SummaryKey,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	expr := "SET #s = :s, updatedAt = :u"
	if u.SummaryKey != "" {
		expr += ", summary_file_id = :f"
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: u.ID},
		},
		UpdateExpression: aws.String(expr),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // reserved word
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("UpdateItem id=%s: %w", u.ID, err)
	}
	return nil
}
