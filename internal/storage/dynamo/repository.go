// Package dynamo keeps consultations in a DynamoDB table, one item per consultation
// with its notes and summary embedded.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"consultscribe/internal/domain"
	"consultscribe/internal/storage"
)

const defaultTable = "Consultations"

// Config selects the table and, for local development, an endpoint override with static keys.
type Config struct {
	Table           string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Repository implements ports.ConsultationRepository.
type Repository struct {
	api   dynamoAPI
	table string
	now   func() time.Time
}

// New builds a DynamoDB client from the default AWS config chain.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey},
		}))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(api dynamoAPI, table string) *Repository {
	if table == "" {
		table = defaultTable
	}
	return &Repository{api: api, table: table, now: time.Now}
}

// EnsureTable creates the table when it does not exist yet.
func (r *Repository) EnsureTable(ctx context.Context) error {
	_, err := r.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("ID"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("ID"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", r.table, err)
	}
	return nil
}

func (r *Repository) CreateConsultation(ctx context.Context, consultation domain.Consultation) (domain.Consultation, error) {
	if consultation.Notes == nil {
		consultation.Notes = []domain.Note{}
	}
	_, err := r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                consultationItem(consultation),
		ConditionExpression: aws.String("attribute_not_exists(ID)"),
	})
	if err != nil {
		return domain.Consultation{}, fmt.Errorf("put consultation %s: %w", consultation.ID, err)
	}
	return consultation, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.ConsultationStatus, endTime *time.Time) (domain.Consultation, error) {
	expression := "SET #status = :status"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	}
	if endTime != nil {
		expression += ", EndTime = :end"
		values[":end"] = timeAttr(*endTime)
	}
	return r.update(ctx, id, expression, values, map[string]string{"#status": "Status"})
}

func (r *Repository) AddNote(ctx context.Context, id string, content string) (domain.Consultation, error) {
	note := domain.Note{ID: uuid.NewString(), ConsultationID: id, Content: content, Timestamp: r.now()}
	return r.update(ctx, id,
		"SET Notes = list_append(if_not_exists(Notes, :empty), :note)",
		map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":note":  &types.AttributeValueMemberL{Value: []types.AttributeValue{noteAttr(note)}},
		}, nil)
}

func (r *Repository) AddSummary(ctx context.Context, id string, content string) (domain.Consultation, error) {
	summary := domain.Summary{ID: uuid.NewString(), ConsultationID: id, Content: content, CreatedAt: r.now()}
	return r.update(ctx, id, "SET Summary = :summary",
		map[string]types.AttributeValue{":summary": summaryAttr(summary)}, nil)
}

func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Consultation, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            keyFor(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get consultation %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	consultation, err := consultationFromItem(out.Item)
	if err != nil {
		return nil, err
	}
	return &consultation, nil
}

func (r *Repository) List(ctx context.Context) ([]domain.Consultation, error) {
	out := []domain.Consultation{}
	var startKey map[string]types.AttributeValue
	for {
		page, err := r.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan consultations: %w", err)
		}
		for _, item := range page.Items {
			consultation, err := consultationFromItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, consultation)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (r *Repository) update(ctx context.Context, id, expression string, values map[string]types.AttributeValue, names map[string]string) (domain.Consultation, error) {
	out, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       keyFor(id),
		UpdateExpression:          aws.String(expression),
		ConditionExpression:       aws.String("attribute_exists(ID)"),
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var missing *types.ConditionalCheckFailedException
		if errors.As(err, &missing) {
			return domain.Consultation{}, storage.ConsultationNotFound(id)
		}
		return domain.Consultation{}, fmt.Errorf("update consultation %s: %w", id, err)
	}
	return consultationFromItem(out.Attributes)
}

func keyFor(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"ID": &types.AttributeValueMemberS{Value: id}}
}
