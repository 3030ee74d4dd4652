// Package dynamo stores breadcrumbs in a DynamoDB table keyed by employee,
// with a sparse secondary index by visit.
package dynamo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
)

// VisitIndex is the GSI on (visit_id, sk).
const VisitIndex = "visit_id-sk-index"

// sortTimeLayout is fixed width so lexical order equals time order.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Client is the subset of *dynamodb.Client used by the repository.
type Client interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type item struct {
	EmployeeID string   `dynamodbav:"employee_id"`
	SortKey    string   `dynamodbav:"sk"`
	ID         string   `dynamodbav:"id"`
	VisitID    string   `dynamodbav:"visit_id,omitempty"`
	Latitude   float64  `dynamodbav:"latitude"`
	Longitude  float64  `dynamodbav:"longitude"`
	Accuracy   *float64 `dynamodbav:"accuracy,omitempty"`
	Source     string   `dynamodbav:"source"`
	Confidence string   `dynamodbav:"confidence"`
	CapturedAt string   `dynamodbav:"captured_at"`
	CreatedAt  string   `dynamodbav:"created_at"`
}

func sortKey(t time.Time, id string) string {
	return t.UTC().Format(sortTimeLayout) + "#" + id
}

func toItem(b *domain.Breadcrumb) item {
	return item{
		EmployeeID: b.EmployeeID,
		SortKey:    sortKey(b.CapturedAt, b.ID),
		ID:         b.ID,
		VisitID:    b.VisitID,
		Latitude:   b.Latitude,
		Longitude:  b.Longitude,
		Accuracy:   b.Accuracy,
		Source:     string(b.Source),
		Confidence: string(b.Confidence),
		CapturedAt: b.CapturedAt.UTC().Format(time.RFC3339Nano),
		CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it item) breadcrumb() (domain.Breadcrumb, error) {
	captured, err := time.Parse(time.RFC3339Nano, it.CapturedAt)
	if err != nil {
		return domain.Breadcrumb{}, fmt.Errorf("captured_at: %w", err)
	}
	created, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	return domain.Breadcrumb{
		ID:         it.ID,
		EmployeeID: it.EmployeeID,
		VisitID:    it.VisitID,
		LocationSample: domain.LocationSample{
			Latitude:   it.Latitude,
			Longitude:  it.Longitude,
			Accuracy:   it.Accuracy,
			Source:     domain.Source(it.Source),
			Confidence: domain.Confidence(it.Confidence),
			CapturedAt: captured,
		},
		CreatedAt: created,
	}, nil
}

// BreadcrumbRepo implements ports.BreadcrumbRepository.
type BreadcrumbRepo struct {
	client    Client
	tableName string
}

func NewBreadcrumbRepo(client Client, tableName string) *BreadcrumbRepo {
	return &BreadcrumbRepo{client: client, tableName: tableName}
}

func (r *BreadcrumbRepo) Insert(ctx context.Context, b *domain.Breadcrumb) error {
	av, err := attributevalue.MarshalMap(toItem(b))
	if err != nil {
		return fmt.Errorf("marshal breadcrumb: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		return fmt.Errorf("put breadcrumb: %w", err)
	}
	return nil
}

// Select queries the visit index when a visit is given, one partition per
// employee otherwise, and falls back to a scan with no key at all. Results
// from several partitions are merged into the requested order.
func (r *BreadcrumbRepo) Select(ctx context.Context, f ports.BreadcrumbFilter) ([]domain.Breadcrumb, error) {
	var (
		items []item
		err   error
	)
	switch {
	case f.VisitID != "":
		items, err = r.query(ctx, VisitIndex, "visit_id", f.VisitID, f)
	case len(f.EmployeeIDs) > 0:
		for _, id := range f.EmployeeIDs {
			part, qerr := r.query(ctx, "", "employee_id", id, f)
			if qerr != nil {
				return nil, qerr
			}
			items = append(items, part...)
		}
	default:
		items, err = r.scan(ctx)
	}
	if err != nil {
		return nil, err
	}

	employees := make(map[string]bool, len(f.EmployeeIDs))
	for _, id := range f.EmployeeIDs {
		employees[id] = true
	}

	out := make([]domain.Breadcrumb, 0, len(items))
	for _, it := range items {
		b, err := it.breadcrumb()
		if err != nil {
			return nil, fmt.Errorf("decode breadcrumb %s: %w", it.ID, err)
		}
		if len(employees) > 0 && !employees[b.EmployeeID] {
			continue
		}
		if f.From != nil && b.CapturedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && b.CapturedAt.After(*f.To) {
			continue
		}
		if f.Before != nil && !f.Before.Admits(b) {
			continue
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := sortKey(out[i].CapturedAt, out[i].ID), sortKey(out[j].CapturedAt, out[j].ID)
		if f.Order == ports.OldestFirst {
			return ki < kj
		}
		return ki > kj
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *BreadcrumbRepo) query(ctx context.Context, index, pkName, pkValue string, f ports.BreadcrumbFilter) ([]item, error) {
	cond := "#pk = :pk"
	names := map[string]string{"#pk": pkName}
	values := map[string]dynamodbtypes.AttributeValue{
		":pk": &dynamodbtypes.AttributeValueMemberS{Value: pkValue},
	}
	// the cursor key is an exclusive upper bound; BETWEEN is inclusive, so a
	// bounded window plus a cursor includes the cursor row and is trimmed below
	var bound string
	inclusive := true
	hi := "9~"
	if f.To != nil {
		hi = f.To.UTC().Format(sortTimeLayout) + "#~"
	}
	if f.Before != nil {
		if bk := sortKey(f.Before.CapturedAt, f.Before.ID); bk <= hi {
			hi, inclusive = bk, false
		}
	}
	switch {
	case f.From != nil:
		bound = " AND #sk BETWEEN :lo AND :hi"
		values[":lo"] = &dynamodbtypes.AttributeValueMemberS{Value: f.From.UTC().Format(sortTimeLayout)}
	case !inclusive:
		bound = " AND #sk < :hi"
	case f.To != nil:
		bound = " AND #sk <= :hi"
	}
	if bound != "" {
		cond += bound
		names["#sk"] = "sk"
		values[":hi"] = &dynamodbtypes.AttributeValueMemberS{Value: hi}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(f.Order == ports.OldestFirst),
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}
	// a per-partition limit is exact only when there is one partition and no post-filter
	exact := index == "" && f.Limit > 0
	if exact {
		limit := f.Limit
		if f.From != nil && !inclusive {
			limit++
		}
		input.Limit = aws.Int32(int32(limit))
	}

	var out []item
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}
		res, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query %s=%s: %w", pkName, pkValue, err)
		}
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal breadcrumbs: %w", err)
		}
		out = append(out, page...)

		lastEvaluatedKey = res.LastEvaluatedKey
		if lastEvaluatedKey == nil || (exact && len(out) >= int(aws.ToInt32(input.Limit))) {
			break
		}
	}
	return out, nil
}

func (r *BreadcrumbRepo) scan(ctx context.Context) ([]item, error) {
	var out []item
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{TableName: aws.String(r.tableName)}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}
		res, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan breadcrumbs: %w", err)
		}
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal breadcrumbs: %w", err)
		}
		out = append(out, page...)

		lastEvaluatedKey = res.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			break
		}
	}
	return out, nil
}
