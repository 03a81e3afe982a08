package dynamo

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-reminders/internal/config"
	"github.com/rs/zerolog"
)

// TableCreator is the part of the DynamoDB client Bootstrap needs.
type TableCreator interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Bootstrap creates the users, reminders and notifications tables and their GSIs
// if they don't already exist. Safe to call on every startup.
func Bootstrap(ctx context.Context, client TableCreator, tables config.DynamoTables, log zerolog.Logger) {
	for _, in := range tableInputs(tables) {
		createTable(ctx, client, in, log)
	}
}

func tableInputs(tables config.DynamoTables) []*dynamodb.CreateTableInput {
	return []*dynamodb.CreateTableInput{
		{
			TableName:   aws.String(tables.Users),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(fieldUserID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(fieldUserID), KeyType: types.KeyTypeHash},
			},
		},
		{
			TableName:   aws.String(tables.Reminders),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(fieldReminderID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(fieldUserID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(fieldDueAt), AttributeType: types.ScalarAttributeTypeN},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(fieldReminderID), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexUserDue, fieldUserID, fieldDueAt),
			},
		},
		{
			TableName:   aws.String(tables.Notifications),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(fieldNotificationID), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String(fieldReminderID), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(fieldNotificationID), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexReminder, fieldReminderID, ""),
			},
		},
	}
}

// gsi builds a GSI descriptor. If sortKey is empty, only a hash key is added.
func gsi(indexName, hashKey, sortKey string) types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange,
		})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client TableCreator, input *dynamodb.CreateTableInput, log zerolog.Logger) {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			log.Warn().Err(err).Str("table", *input.TableName).Msg("could not create table")
		}
		return
	}
	log.Info().Str("table", *input.TableName).Msg("created table")
}
