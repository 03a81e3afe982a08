package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-reminders/internal/domain"
)

// NotificationRepo provides typed DynamoDB operations for the notifications table.
// A notification only ever leaves PENDING, and only once.
type NotificationRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewNotificationRepo(client API, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName, now: time.Now}
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": fieldNotificationID},
	})
	return mapConditionErr(err, "create notification")
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldNotificationID, notificationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
	}
	var n domain.Notification
	if err := attributevalue.UnmarshalMap(out.Item, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}

// MarkSent records a successful delivery. It is a conflict unless the notification is PENDING.
func (r *NotificationRepo) MarkSent(ctx context.Context, notificationID, providerMessageID string, sentAt time.Time) error {
	fields := map[string]interface{}{
		fieldStatus: domain.NotificationSent,
		fieldSentAt: sentAt.UTC(),
	}
	if providerMessageID != "" {
		fields[fieldProviderMessageID] = providerMessageID
	}
	return r.settle(ctx, notificationID, fields)
}

// MarkFailed records a terminal delivery failure.
func (r *NotificationRepo) MarkFailed(ctx context.Context, notificationID, reason string) error {
	return r.settle(ctx, notificationID, map[string]interface{}{
		fieldStatus: domain.NotificationFailed,
		fieldError:  reason,
	})
}

func (r *NotificationRepo) Cancel(ctx context.Context, notificationID string) error {
	return r.settle(ctx, notificationID, map[string]interface{}{fieldStatus: domain.NotificationCanceled})
}

func (r *NotificationRepo) settle(ctx context.Context, notificationID string, fields map[string]interface{}) error {
	fields[fieldUpdatedAt] = r.now().UTC()
	ue, err := buildUpdateExpr(fields)
	if err != nil {
		return err
	}
	cond := ue.condition(fieldNotificationID, []string{string(domain.NotificationPending)})
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldNotificationID, notificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return mapConditionErr(err, "update notification "+notificationID)
}

// ListPending returns the PENDING notifications of a reminder via the reminder_id GSI.
func (r *NotificationRepo) ListPending(ctx context.Context, reminderID string) ([]domain.Notification, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexReminder),
		KeyConditionExpression: aws.String("#r = :r"),
		FilterExpression:       aws.String("#s = :p"),
		ExpressionAttributeNames: map[string]string{
			"#r": fieldReminderID,
			"#s": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r": &types.AttributeValueMemberS{Value: reminderID},
			":p": &types.AttributeValueMemberS{Value: string(domain.NotificationPending)},
		},
	}
	var out []domain.Notification
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pending notifications: %w", err)
		}
		var items []domain.Notification
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal notifications: %w", err)
		}
		out = append(out, items...)
	}
	return out, nil
}
