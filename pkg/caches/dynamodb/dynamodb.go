// Package dynamodb provides a cache backend over an AWS DynamoDB table,
// the recommended backend for multi-process deployments. The table uses a
// string partition key "pk" and string sort key "sk"; values are stored in
// the "value" attribute.
package dynamodb

import (
	"context"
	goerrors "errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hashicorp-forge/grove/pkg/caches"
	"github.com/hashicorp-forge/grove/pkg/errors"
	"github.com/hashicorp-forge/grove/pkg/settings"
)

// Name is the handler name this backend registers under.
const Name = "aws_dynamodb"

func init() {
	caches.Register(Name, func() (caches.Cache, error) {
		table := settings.BackendDefault("cache", Name, "table", "grove")
		region := settings.Backend("cache", Name, "region")

		opts := []func(*awsconfig.LoadOptions) error{}
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeBackend, "unable to load AWS configuration")
		}
		return New(dynamodb.NewFromConfig(cfg), table), nil
	})
}

// Cache stores pointers and locks in a DynamoDB table.
type Cache struct {
	client *dynamodb.Client
	table  string
}

// New constructs a DynamoDB cache over the given client and table.
func New(client *dynamodb.Client, table string) *Cache {
	return &Cache{client: client, table: table}
}

// Get retrieves a value with the given PK / SK.
func (c *Cache) Get(ctx context.Context, pk, sk string) (string, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeBackend, "unable to read from DynamoDB")
	}

	attribute, ok := result.Item["value"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New(errors.ErrorTypeNotFound, "no value found in cache")
	}
	return attribute.Value, nil
}

// Set stores the value for the given key, honoring the constraint via a
// DynamoDB condition expression.
func (c *Cache) Set(ctx context.Context, pk, sk, value string, constraint *caches.Constraint) error {
	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"pk":    &types.AttributeValueMemberS{Value: pk},
			"sk":    &types.AttributeValueMemberS{Value: sk},
			"value": &types.AttributeValueMemberS{Value: value},
		},
	}

	if constraint != nil {
		if constraint.NotSet {
			input.ConditionExpression = aws.String("attribute_not_exists(pk)")
		} else {
			input.ConditionExpression = aws.String("#v = :expected")
			input.ExpressionAttributeNames = map[string]string{"#v": "value"}
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberS{Value: constraint.Equals},
			}
		}
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return wrapConditional(err, "unable to write to DynamoDB")
	}
	return nil
}

// Delete removes an entry with the given PK / SK, honoring the constraint.
func (c *Cache) Delete(ctx context.Context, pk, sk string, constraint *caches.Constraint) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	}

	if constraint != nil && !constraint.NotSet {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "value"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: constraint.Equals},
		}
	}

	if _, err := c.client.DeleteItem(ctx, input); err != nil {
		return wrapConditional(err, "unable to delete from DynamoDB")
	}
	return nil
}

func wrapConditional(err error, message string) error {
	var conditional *types.ConditionalCheckFailedException
	if goerrors.As(err, &conditional) {
		return errors.New(errors.ErrorTypeConflict, "cached value does not match the expected value")
	}
	return errors.Wrap(err, errors.ErrorTypeBackend, message)
}
