package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

type mockDynamo struct {
	mock.Mock
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func marshalItem(t *testing.T, j *job.Job) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(toItem(j))
	require.NoError(t, err)
	return av
}

func TestDynamo_PutGetRoundTrip(t *testing.T) {
	client := new(mockDynamo)
	s := NewDynamo(client, "Jobs-test")
	j := newJob("job-1", "user-1", true)
	j.CompletedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var stored map[string]types.AttributeValue
	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return *in.TableName == "Jobs-test"
	})).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*dynamodb.PutItemInput).Item
	}).Return(&dynamodb.PutItemOutput{}, nil)

	require.NoError(t, s.Put(context.Background(), j))
	require.NotNil(t, stored)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "user-1"}, stored["userId"])

	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil)
	got, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, j.AudioStatus, got.AudioStatus)
	assert.True(t, j.CompletedAt.Equal(got.CompletedAt))
	assert.Equal(t, job.CombinationNone, got.CombinationStatus)
}

func TestDynamo_Get_NotFound(t *testing.T) {
	client := new(mockDynamo)
	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := NewDynamo(client, "Jobs-test").Get(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestDynamo_Update(t *testing.T) {
	client := new(mockDynamo)
	s := NewDynamo(client, "Jobs-test")

	var captured *dynamodb.UpdateItemInput
	client.On("UpdateItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).(*dynamodb.UpdateItemInput)
	}).Return(&dynamodb.UpdateItemOutput{}, nil)

	require.NoError(t, s.Update(context.Background(), "job-1", job.ClaimCombination()))
	require.NotNil(t, captured)
	assert.Contains(t, *captured.UpdateExpression, "#combinationStatus = :combinationStatus")
	assert.Contains(t, *captured.ConditionExpression, "attribute_exists(jobId)")
	assert.Contains(t, *captured.ConditionExpression, "(attribute_not_exists(#combinationStatus))")
	assert.Contains(t, *captured.ConditionExpression, "(#status IN (:when_status_0))")
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, captured.ReturnValuesOnConditionCheckFailure)
}

func TestDynamo_Update_ConditionFailures(t *testing.T) {
	tests := []struct {
		name string
		item map[string]types.AttributeValue
		want error
	}{
		{
			name: "job exists",
			item: map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: "job-1"}},
			want: job.ErrPreconditionFailed,
		},
		{
			name: "job missing",
			want: job.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockDynamo)
			client.On("UpdateItem", mock.Anything, mock.Anything).
				Return(nil, &types.ConditionalCheckFailedException{Message: ptrTo("conditional"), Item: tt.item})

			err := NewDynamo(client, "Jobs-test").Update(context.Background(), "job-1", job.StartProcessing())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDynamo_Update_ClientError(t *testing.T) {
	client := new(mockDynamo)
	client.On("UpdateItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	err := NewDynamo(client, "Jobs-test").Update(context.Background(), "job-1", job.StartProcessing())
	require.Error(t, err)
	assert.NotErrorIs(t, err, job.ErrPreconditionFailed)
	assert.Contains(t, err.Error(), "throttled")
}

func TestDynamo_Scan(t *testing.T) {
	client := new(mockDynamo)
	s := NewDynamo(client, "Jobs-test")

	page1 := []map[string]types.AttributeValue{
		marshalItem(t, newJob("job-3", "user-1", false)),
		marshalItem(t, newJob("job-1", "user-1", false)),
	}
	page2 := []map[string]types.AttributeValue{
		marshalItem(t, newJob("job-2", "user-1", false)),
	}
	lastKey := map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: "job-1"}}

	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.ScanOutput{Items: page1, LastEvaluatedKey: lastKey}, nil).Once()
	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.ScanOutput{Items: page2}, nil).Once()

	page, err := s.Scan(context.Background(), job.ScanFilter{Status: job.StatusQueued}, 2, "")
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.Equal(t, "job-1", page.Jobs[0].ID)
	assert.Equal(t, "job-2", page.Jobs[1].ID)
	assert.Equal(t, "job-2", page.NextCursor)
	client.AssertExpectations(t)
}

func TestBuildDynamoUpdate_MixedCondition(t *testing.T) {
	p := job.Patch{When: job.Condition{CombinationStatus: []job.CombinationStatus{job.CombinationNone, job.CombinationFailed}}}

	e, err := buildDynamoUpdate(p, time.Now())
	require.NoError(t, err)
	assert.Equal(t,
		"attribute_exists(jobId) AND (attribute_not_exists(#combinationStatus) OR #combinationStatus IN (:when_combinationStatus_1))",
		e.condition)
	assert.Equal(t, "SET #updatedAt = :updatedAt", e.update)
}

func TestBuildDynamoUpdate_ReleaseRemovesCombination(t *testing.T) {
	e, err := buildDynamoUpdate(job.ReleaseCombination(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "SET #updatedAt = :updatedAt REMOVE #combinationStatus", e.update)
	assert.NotContains(t, e.values, ":combinationStatus")
	assert.Equal(t, "combinationStatus", e.names["#combinationStatus"])
}

func TestBuildDynamoUpdate_UpdatedBefore(t *testing.T) {
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e, err := buildDynamoUpdate(job.ReclaimTrack(job.ModalityVideo, cutoff), time.Now())
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(e.condition, " AND #updatedAt < :when_updatedAt"), e.condition)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "2026-01-02T03:04:05Z"}, e.values[":when_updatedAt"])
}

func ptrTo[T any](v T) *T { return &v }
