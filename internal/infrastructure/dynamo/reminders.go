package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-reminders/internal/domain"
)

// ReminderRepo provides typed DynamoDB operations for the reminders table.
// Every state change is a conditional write; a failed condition surfaces as
// domain.ErrConflict.
type ReminderRepo struct {
	client    API
	tableName string
	now       func() time.Time
}

func NewReminderRepo(client API, tableName string) *ReminderRepo {
	return &ReminderRepo{client: client, tableName: tableName, now: time.Now}
}

// Create inserts a new reminder; an existing ID is a conflict.
func (r *ReminderRepo) Create(ctx context.Context, rem *domain.Reminder) error {
	item, err := attributevalue.MarshalMap(rem)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#k)"),
		ExpressionAttributeNames: map[string]string{"#k": fieldReminderID},
	})
	return mapConditionErr(err, "create reminder")
}

func (r *ReminderRepo) Get(ctx context.Context, reminderID string) (*domain.Reminder, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldReminderID, reminderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("reminder %s: %w", reminderID, domain.ErrNotFound)
	}
	var rem domain.Reminder
	if err := attributevalue.UnmarshalMap(out.Item, &rem); err != nil {
		return nil, fmt.Errorf("unmarshal reminder: %w", err)
	}
	return &rem, nil
}

// Transition moves the reminder to status `to` if its current status is one of `from`.
// With no `from` statuses any existing reminder is updated.
func (r *ReminderRepo) Transition(ctx context.Context, reminderID string, to domain.ReminderStatus, from ...domain.ReminderStatus) error {
	return r.update(ctx, reminderID, map[string]interface{}{fieldStatus: to}, from, nil)
}

// Reschedule moves the reminder from due time prev to dueAt and sets its status,
// guarded by the current status. A concurrent reschedule makes it a conflict.
func (r *ReminderRepo) Reschedule(ctx context.Context, reminderID string, prev, dueAt time.Time, to domain.ReminderStatus, from ...domain.ReminderStatus) error {
	return r.update(ctx, reminderID, map[string]interface{}{
		fieldStatus: to,
		fieldDueAt:  attributevalue.UnixTime(dueAt.UTC()),
	}, from, &prev)
}

// AdvanceDue moves an ACTIVE reminder from prev to next. It is a conflict when
// another writer already moved the due time or the reminder left ACTIVE.
func (r *ReminderRepo) AdvanceDue(ctx context.Context, reminderID string, prev, next time.Time) error {
	return r.update(ctx, reminderID, map[string]interface{}{
		fieldDueAt: attributevalue.UnixTime(next.UTC()),
	}, []domain.ReminderStatus{domain.ReminderActive}, &prev)
}

func (r *ReminderRepo) update(ctx context.Context, reminderID string, fields map[string]interface{}, from []domain.ReminderStatus, expectDue *time.Time) error {
	fields[fieldUpdatedAt] = r.now().UTC()
	ue, err := buildUpdateExpr(fields)
	if err != nil {
		return err
	}
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	cond := ue.condition(fieldReminderID, statuses)
	if expectDue != nil {
		ue.Names["#cdue"] = fieldDueAt
		ue.Values[":cdue"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expectDue.Unix(), 10)}
		cond += " AND #cdue = :cdue"
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldReminderID, reminderID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return mapConditionErr(err, "update reminder "+reminderID)
}

// ListByOwner queries the user_id-due_at GSI in due order, following every page.
func (r *ReminderRepo) ListByOwner(ctx context.Context, userID string, f domain.ReminderFilter) ([]domain.Reminder, error) {
	names := map[string]string{"#u": fieldUserID}
	values := map[string]types.AttributeValue{":u": &types.AttributeValueMemberS{Value: userID}}
	keyCond := "#u = :u"

	unix := func(t time.Time) types.AttributeValue {
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
	}
	switch {
	case f.From != nil && f.To != nil:
		names["#d"] = fieldDueAt
		values[":from"], values[":to"] = unix(*f.From), unix(*f.To)
		keyCond += " AND #d BETWEEN :from AND :to"
	case f.From != nil:
		names["#d"] = fieldDueAt
		values[":from"] = unix(*f.From)
		keyCond += " AND #d >= :from"
	case f.To != nil:
		names["#d"] = fieldDueAt
		values[":to"] = unix(*f.To)
		keyCond += " AND #d <= :to"
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(indexUserDue),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}
	if f.Status != nil {
		names["#s"] = fieldStatus
		values[":s"] = &types.AttributeValueMemberS{Value: string(*f.Status)}
		in.FilterExpression = aws.String("#s = :s")
	}

	var out []domain.Reminder
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list reminders: %w", err)
		}
		var items []domain.Reminder
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal reminders: %w", err)
		}
		out = append(out, items...)
	}
	// Pages are ordered; the sort only guards ties at second resolution.
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
