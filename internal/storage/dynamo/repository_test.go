package dynamo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"consultscribe/internal/domain"
)

func TestRepositoryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeDynamo()
	repo := NewWithClient(api, "")
	start := time.Date(2024, 4, 2, 15, 0, 0, 0, time.UTC)
	clock := start
	repo.now = func() time.Time { return clock }

	if repo.table != "Consultations" {
		t.Fatalf("unexpected default table: %q", repo.table)
	}
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure table: %v", err)
	}
	if err := repo.EnsureTable(ctx); err != nil {
		t.Fatalf("ensure table should tolerate existing table: %v", err)
	}

	if _, err := repo.CreateConsultation(ctx, domain.Consultation{ID: "c1", StartTime: start, Status: domain.ConsultationInProgress}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.CreateConsultation(ctx, domain.Consultation{ID: "c1", StartTime: start}); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}

	clock = start.Add(20 * time.Second)
	if _, err := repo.AddNote(ctx, "c1", "Allergic to penicillin"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	clock = start.Add(40 * time.Second)
	withNotes, err := repo.AddNote(ctx, "c1", "Prescribed azithromycin")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if len(withNotes.Notes) != 2 || withNotes.Notes[1].Content != "Prescribed azithromycin" || !withNotes.Notes[0].Timestamp.Equal(start.Add(20*time.Second)) {
		t.Fatalf("unexpected notes: %+v", withNotes.Notes)
	}

	end := start.Add(3 * time.Minute)
	completed, err := repo.UpdateStatus(ctx, "c1", domain.ConsultationCompleted, &end)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if completed.Status != domain.ConsultationCompleted || completed.EndTime == nil || !completed.EndTime.Equal(end) {
		t.Fatalf("unexpected completed consultation: %+v", completed)
	}

	summarized, err := repo.AddSummary(ctx, "c1", "Consultation Summary")
	if err != nil {
		t.Fatalf("add summary: %v", err)
	}
	if summarized.Summary == nil || summarized.Summary.Content != "Consultation Summary" || len(summarized.Notes) != 2 {
		t.Fatalf("unexpected summarized consultation: %+v", summarized)
	}

	found, err := repo.FindByID(ctx, "c1")
	if err != nil || found == nil || found.Summary == nil {
		t.Fatalf("find: %+v, %v", found, err)
	}
}

func TestRepositoryMissingConsultation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewWithClient(newFakeDynamo(), "t")

	found, err := repo.FindByID(ctx, "missing")
	if err != nil || found != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", found, err)
	}
	if _, err := repo.AddNote(ctx, "missing", "x"); !domain.IsKind(err, domain.ErrorKindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryListPagesAndSorts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeDynamo()
	api.pageSize = 2
	repo := NewWithClient(api, "t")
	base := time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := repo.CreateConsultation(ctx, domain.Consultation{ID: id, StartTime: base.Add(time.Duration(i) * time.Hour), Status: domain.ConsultationInProgress}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	listed, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 5 || listed[0].ID != "e" || listed[4].ID != "a" {
		t.Fatalf("unexpected listing: %+v", listed)
	}
	if api.scanCalls != 3 {
		t.Fatalf("expected 3 scan pages, got %d", api.scanCalls)
	}
}

func TestConsultationItemRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 4, 2, 8, 0, 0, 500, time.UTC)
	end := start.Add(time.Minute)
	in := domain.Consultation{
		ID:        "c1",
		StartTime: start,
		EndTime:   &end,
		Status:    domain.ConsultationCompleted,
		Notes:     []domain.Note{{ID: "n1", ConsultationID: "c1", Content: "x", Timestamp: start}},
		Summary:   &domain.Summary{ID: "s1", ConsultationID: "c1", Content: "y", CreatedAt: end},
	}

	out, err := consultationFromItem(consultationItem(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.StartTime.Equal(start) || !out.EndTime.Equal(end) || out.Notes[0].Content != "x" || out.Summary.Content != "y" {
		t.Fatalf("unexpected round trip: %+v", out)
	}
}

// fakeDynamo understands the handful of update expressions the repository issues.
type fakeDynamo struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	order     []string
	tables    map[string]bool
	pageSize  int
	scanCalls int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}, tables: map[string]bool{}}
}

func idOf(key map[string]types.AttributeValue) string {
	return key["ID"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: copyItem(f.items[idOf(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := idOf(in.Item)
	if _, exists := f.items[id]; exists && aws.ToString(in.ConditionExpression) == "attribute_not_exists(ID)" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	if _, exists := f.items[id]; !exists {
		f.order = append(f.order, id)
	}
	f.items[id] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[idOf(in.Key)]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	values := in.ExpressionAttributeValues
	if v, ok := values[":status"]; ok {
		item["Status"] = v
	}
	if v, ok := values[":end"]; ok {
		item["EndTime"] = v
	}
	if v, ok := values[":note"]; ok {
		existing, _ := item["Notes"].(*types.AttributeValueMemberL)
		var list []types.AttributeValue
		if existing != nil {
			list = append(list, existing.Value...)
		}
		list = append(list, v.(*types.AttributeValueMemberL).Value...)
		item["Notes"] = &types.AttributeValueMemberL{Value: list}
	}
	if v, ok := values[":summary"]; ok {
		item["Summary"] = v
	}
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanCalls++

	start := 0
	if in.ExclusiveStartKey != nil {
		last := idOf(in.ExclusiveStartKey)
		for i, id := range f.order {
			if id == last {
				start = i + 1
			}
		}
	}
	end := len(f.order)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &dynamodb.ScanOutput{}
	for _, id := range f.order[start:end] {
		out.Items = append(out.Items, copyItem(f.items[id]))
	}
	if end < len(f.order) {
		out.LastEvaluatedKey = keyFor(f.order[end-1])
	}
	return out, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.TableName)
	if f.tables[name] {
		return nil, &types.ResourceInUseException{Message: aws.String("exists")}
	}
	f.tables[name] = true
	return &dynamodb.CreateTableOutput{}, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
