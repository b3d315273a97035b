package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/appraisal-booking/internal/events"
	"github.com/wolfman30/appraisal-booking/pkg/logging"
)

const stepViewTTL = 90 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// StepViewRecord is the DynamoDB item for one step view.
type StepViewRecord struct {
	JourneyID string `dynamodbav:"journeyId"`
	SortKey   string `dynamodbav:"sk"`
	EventID   string `dynamodbav:"eventId"`
	VisitorID string `dynamodbav:"visitorId,omitempty"`
	Step      int    `dynamodbav:"step"`
	Name      string `dynamodbav:"name"`
	Year      int    `dynamodbav:"year,omitempty"`
	Make      string `dynamodbav:"make,omitempty"`
	Model     string `dynamodbav:"model,omitempty"`
	Series    string `dynamodbav:"series,omitempty"`
	Body      string `dynamodbav:"body,omitempty"`
	Zip       string `dynamodbav:"zip,omitempty"`
	ViewedAt  string `dynamodbav:"viewedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoRecorder is the Sink the worker writes through.
type DynamoRecorder struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

func NewDynamoRecorder(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRecorder {
	if client == nil {
		panic("analytics: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("analytics: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRecorder{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// RecordStepView writes the view once; a redelivered event is a no-op.
func (r *DynamoRecorder) RecordStepView(ctx context.Context, view events.StepViewedV1) error {
	if view.JourneyID == "" || view.EventID == "" {
		return errors.New("analytics: journey id and event id required")
	}
	viewedAt := view.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = r.now()
	}
	viewedAt = viewedAt.UTC()
	record := StepViewRecord{
		JourneyID: view.JourneyID,
		SortKey:   fmt.Sprintf("%s#%s", viewedAt.Format(time.RFC3339Nano), view.EventID),
		EventID:   view.EventID,
		VisitorID: view.VisitorID,
		Step:      view.Step,
		Name:      view.Name,
		Year:      view.Vehicle.Year,
		Make:      view.Vehicle.Make,
		Model:     view.Vehicle.Model,
		Series:    view.Vehicle.Series,
		Body:      view.Vehicle.Body,
		Zip:       view.Vehicle.Zip,
		ViewedAt:  viewedAt.Format(time.RFC3339Nano),
		ExpiresAt: viewedAt.Add(stepViewTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("analytics: marshal step view: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			r.logger.Debug("analytics: step view already recorded", "event_id", view.EventID)
			return nil
		}
		return fmt.Errorf("analytics: put step view: %w", err)
	}
	return nil
}
