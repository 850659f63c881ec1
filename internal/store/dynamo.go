package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// Compile-time check that Dynamo implements job.Store.
var _ job.Store = (*Dynamo)(nil)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is the table layout, keyed by jobId.
type dynamoItem struct {
	JobID             string     `dynamodbav:"jobId"`
	UserID            string     `dynamodbav:"userId"`
	Prompt            string     `dynamodbav:"prompt"`
	Seconds           int        `dynamodbav:"seconds"`
	Resolution        string     `dynamodbav:"resolution"`
	Tier              string     `dynamodbav:"tier"`
	WantsAudio        bool       `dynamodbav:"wantsAudio"`
	AudioTier         string     `dynamodbav:"audioTier,omitempty"`
	Status            string     `dynamodbav:"status"`
	VideoStatus       string     `dynamodbav:"videoStatus,omitempty"`
	AudioStatus       string     `dynamodbav:"audioStatus,omitempty"`
	CombinationStatus string     `dynamodbav:"combinationStatus,omitempty"`
	VideoURL          string     `dynamodbav:"videoUrl,omitempty"`
	AudioURL          string     `dynamodbav:"audioUrl,omitempty"`
	CombinedURL       string     `dynamodbav:"combinedVideoUrl,omitempty"`
	HasSeparateTracks bool       `dynamodbav:"hasSeparateTracks"`
	ErrorMessage      string     `dynamodbav:"errorMessage,omitempty"`
	CreatedAt         time.Time  `dynamodbav:"createdAt"`
	UpdatedAt         time.Time  `dynamodbav:"updatedAt"`
	CompletedAt       *time.Time `dynamodbav:"completedAt,omitempty"`
}

func toItem(j *job.Job) dynamoItem {
	item := dynamoItem{
		JobID:             j.ID,
		UserID:            j.OwnerID,
		Prompt:            j.Prompt,
		Seconds:           j.DurationSeconds,
		Resolution:        j.Resolution,
		Tier:              j.Tier,
		WantsAudio:        j.WantsAudio,
		AudioTier:         j.AudioTier,
		Status:            string(j.Status),
		VideoStatus:       string(j.VideoStatus),
		AudioStatus:       string(j.AudioStatus),
		CombinationStatus: string(j.CombinationStatus),
		VideoURL:          j.VideoURL,
		AudioURL:          j.AudioURL,
		CombinedURL:       j.CombinedURL,
		HasSeparateTracks: j.HasSeparateTracks,
		ErrorMessage:      j.ErrorMessage,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		item.CompletedAt = &t
	}
	return item
}

func (it dynamoItem) toJob() *job.Job {
	j := &job.Job{
		ID:                it.JobID,
		OwnerID:           it.UserID,
		Prompt:            it.Prompt,
		DurationSeconds:   it.Seconds,
		Resolution:        it.Resolution,
		Tier:              it.Tier,
		WantsAudio:        it.WantsAudio,
		AudioTier:         it.AudioTier,
		Status:            job.Status(it.Status),
		VideoStatus:       job.TrackStatus(it.VideoStatus),
		AudioStatus:       job.TrackStatus(it.AudioStatus),
		CombinationStatus: job.CombinationStatus(it.CombinationStatus),
		VideoURL:          it.VideoURL,
		AudioURL:          it.AudioURL,
		CombinedURL:       it.CombinedURL,
		HasSeparateTracks: it.HasSeparateTracks,
		ErrorMessage:      it.ErrorMessage,
		CreatedAt:         it.CreatedAt,
		UpdatedAt:         it.UpdatedAt,
	}
	if it.CompletedAt != nil {
		j.CompletedAt = *it.CompletedAt
	}
	return j
}

// Dynamo is a job.Store backed by a DynamoDB table with partition key jobId.
type Dynamo struct {
	client DynamoAPI
	table  string
}

// NewDynamo creates a store on table.
func NewDynamo(client DynamoAPI, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

func (s *Dynamo) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: id}}
}

// Get retrieves a job by ID with a strongly consistent read.
func (s *Dynamo) Get(ctx context.Context, id string) (*job.Job, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, job.ErrJobNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return item.toJob(), nil
}

// Put creates or replaces a job.
func (s *Dynamo) Put(ctx context.Context, j *job.Job) error {
	av, err := attributevalue.MarshalMap(toItem(j))
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put job %s: %w", j.ID, err)
	}
	return nil
}

// Update applies the patch as a conditional UpdateItem. The old item is
// returned on a failed condition so a missing job can be told apart from
// a job in the wrong state.
func (s *Dynamo) Update(ctx context.Context, id string, patch job.Patch) error {
	expr, err := buildDynamoUpdate(patch, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build update for job %s: %w", id, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 s.key(id),
		UpdateExpression:                    aws.String(expr.update),
		ConditionExpression:                 aws.String(expr.condition),
		ExpressionAttributeNames:            expr.names,
		ExpressionAttributeValues:           expr.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return job.ErrJobNotFound
		}
		return job.ErrPreconditionFailed
	}
	return fmt.Errorf("update job %s: %w", id, err)
}

// Scan reads the whole table through the filter and pages the sorted
// result in memory. DynamoDB scans are unordered, and a Limit applies
// before the filter, so cursor order by ID cannot come from the table.
func (s *Dynamo) Scan(ctx context.Context, filter job.ScanFilter, limit int, cursor string) (job.Page, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	}
	var (
		conds  []string
		names  = map[string]string{}
		values = map[string]types.AttributeValue{}
	)
	if filter.Status != "" {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(filter.Status)}
		conds = append(conds, "#status = :status")
	}
	if filter.OwnerID != "" {
		names["#userId"] = "userId"
		values[":userId"] = &types.AttributeValueMemberS{Value: filter.OwnerID}
		conds = append(conds, "#userId = :userId")
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var jobs []*job.Job
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return job.Page{}, fmt.Errorf("scan jobs: %w", err)
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return job.Page{}, fmt.Errorf("decode jobs: %w", err)
		}
		for _, it := range items {
			if it.JobID > cursor {
				jobs = append(jobs, it.toJob())
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	if limit > 0 && len(jobs) > limit {
		return job.Page{Jobs: jobs[:limit], NextCursor: jobs[limit-1].ID}, nil
	}
	return job.Page{Jobs: jobs}, nil
}

type dynamoExpression struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

// buildDynamoUpdate renders the SET clause and the condition of a patch.
func buildDynamoUpdate(p job.Patch, now time.Time) (dynamoExpression, error) {
	e := dynamoExpression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	var (
		sets []string
		errs []error
	)
	set := func(attr string, v any) {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			errs = append(errs, err)
			return
		}
		e.names["#"+attr] = attr
		e.values[":"+attr] = av
		sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
	}

	set("updatedAt", now)
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.VideoStatus != nil {
		set("videoStatus", string(*p.VideoStatus))
	}
	if p.AudioStatus != nil {
		set("audioStatus", string(*p.AudioStatus))
	}
	var removes []string
	if p.CombinationStatus != nil {
		// Not-started is stored as an absent attribute.
		if *p.CombinationStatus == job.CombinationNone {
			e.names["#combinationStatus"] = "combinationStatus"
			removes = append(removes, "#combinationStatus")
		} else {
			set("combinationStatus", string(*p.CombinationStatus))
		}
	}
	if p.VideoURL != nil {
		set("videoUrl", *p.VideoURL)
	}
	if p.AudioURL != nil {
		set("audioUrl", *p.AudioURL)
	}
	if p.CombinedURL != nil {
		set("combinedVideoUrl", *p.CombinedURL)
	}
	if p.HasSeparateTracks != nil {
		set("hasSeparateTracks", *p.HasSeparateTracks)
	}
	if p.ErrorMessage != nil {
		set("errorMessage", *p.ErrorMessage)
	}
	if p.CompletedAt != nil {
		set("completedAt", *p.CompletedAt)
	}
	if err := errors.Join(errs...); err != nil {
		return dynamoExpression{}, err
	}
	e.update = "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		e.update += " REMOVE " + strings.Join(removes, ", ")
	}

	conds := []string{"attribute_exists(jobId)"}
	in := func(attr string, allowed []string) {
		if len(allowed) == 0 {
			return
		}
		e.names["#"+attr] = attr
		// An empty status is stored as an absent attribute.
		var clauses []string
		if slices.Contains(allowed, "") {
			clauses = append(clauses, fmt.Sprintf("attribute_not_exists(#%s)", attr))
		}
		var marks []string
		for i, v := range allowed {
			if v == "" {
				continue
			}
			mark := fmt.Sprintf(":when_%s_%d", attr, i)
			e.values[mark] = &types.AttributeValueMemberS{Value: v}
			marks = append(marks, mark)
		}
		if len(marks) > 0 {
			clauses = append(clauses, fmt.Sprintf("#%s IN (%s)", attr, strings.Join(marks, ", ")))
		}
		conds = append(conds, "("+strings.Join(clauses, " OR ")+")")
	}
	in("status", stringsOf(p.When.Status))
	in("videoStatus", stringsOf(p.When.VideoStatus))
	in("audioStatus", stringsOf(p.When.AudioStatus))
	in("combinationStatus", stringsOf(p.When.CombinationStatus))
	if !p.When.UpdatedBefore.IsZero() {
		av, err := attributevalue.Marshal(p.When.UpdatedBefore.UTC())
		if err != nil {
			return dynamoExpression{}, err
		}
		e.names["#updatedAt"] = "updatedAt"
		e.values[":when_updatedAt"] = av
		conds = append(conds, "#updatedAt < :when_updatedAt")
	}
	e.condition = strings.Join(conds, " AND ")

	return e, nil
}
