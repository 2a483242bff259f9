package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

// dynamoStore keeps reminders in a DynamoDB table keyed by reminder_id,
// with a GSI on owner_id for listing. The conditional write maps directly
// onto a ConditionExpression, so the optimistic-concurrency contract is
// enforced server-side.
type dynamoStore struct {
	db         *dynamodb.Client
	table      string
	ownerIndex string
	log        logx.Logger
}

func openDynamo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("dynamo table is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	idx := cfg.OwnerIndex
	if idx == "" {
		idx = "owner-index"
	}
	return &dynamoStore{db: client, table: cfg.Table, ownerIndex: idx, log: log}, nil
}

func (s *dynamoStore) Close() error { return nil }

func (s *dynamoStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       reminderKey(id),
	})
	if err != nil {
		return reminder.Reminder{}, err
	}
	if out.Item == nil {
		return reminder.Reminder{}, reminder.ErrNotFound
	}
	var rem reminder.Reminder
	if err := attributevalue.UnmarshalMap(out.Item, &rem); err != nil {
		return reminder.Reminder{}, err
	}
	return rem, nil
}

func (s *dynamoStore) Put(ctx context.Context, rem reminder.Reminder) error {
	item, err := attributevalue.MarshalMap(rem)
	if err != nil {
		return err
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func (s *dynamoStore) ConditionalUpdate(ctx context.Context, id string, expectedState reminder.State, expectedRetryCount int, mut Mutation) error {
	set := []string{"updated_at = :updated_at"}
	values := map[string]types.AttributeValue{
		":updated_at":     &types.AttributeValueMemberN{Value: strconv.FormatInt(mut.UpdatedAt.Unix(), 10)},
		":expected_state": &types.AttributeValueMemberS{Value: string(expectedState)},
		":expected_retry": &types.AttributeValueMemberN{Value: strconv.Itoa(expectedRetryCount)},
	}
	if mut.State != nil {
		set = append(set, "#st = :new_state")
		values[":new_state"] = &types.AttributeValueMemberS{Value: string(*mut.State)}
	}
	if mut.RetryCount != nil {
		set = append(set, "retry_count = :new_retry")
		values[":new_retry"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*mut.RetryCount)}
	}
	if mut.Message != nil {
		set = append(set, "message = :new_message")
		values[":new_message"] = &types.AttributeValueMemberS{Value: *mut.Message}
	}
	if mut.FireAt != nil {
		set = append(set, "fire_at = :new_fire_at")
		values[":new_fire_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(mut.FireAt.Unix(), 10)}
	}

	_, err := s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 reminderKey(id),
		UpdateExpression:    aws.String("SET " + strings.Join(set, ", ")),
		ConditionExpression: aws.String("attribute_exists(reminder_id) AND #st = :expected_state AND retry_count = :expected_retry"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The condition covers both a missing record and a lost race.
			if _, gerr := s.Get(ctx, id); errors.Is(gerr, reminder.ErrNotFound) {
				return reminder.ErrNotFound
			}
			return reminder.ErrPreconditionFailed
		}
		return err
	}
	return nil
}

func (s *dynamoStore) QueryByOwner(ctx context.Context, ownerID string) ([]reminder.Reminder, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.ownerIndex),
		KeyConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil {
		return nil, err
	}
	var rems []reminder.Reminder
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rems); err != nil {
		return nil, err
	}
	return rems, nil
}

func (s *dynamoStore) QueryDue(ctx context.Context, before time.Time, limit int) ([]reminder.Reminder, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		Limit:            aws.Int32(int32(limit)),
		FilterExpression: aws.String("#st = :pending AND fire_at <= :before"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(reminder.StatePending)},
			":before":  &types.AttributeValueMemberN{Value: strconv.FormatInt(before.Unix(), 10)},
		},
	})
	if err != nil {
		return nil, err
	}
	var rems []reminder.Reminder
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rems); err != nil {
		return nil, err
	}
	return rems, nil
}

func (s *dynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       reminderKey(id),
	})
	return err
}

func reminderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"reminder_id": &types.AttributeValueMemberS{Value: id},
	}
}
