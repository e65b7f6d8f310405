package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/domain"
)

func fulfillerRow(id, phone, name string) map[string]types.AttributeValue {
	return fulfillerItem(domain.Fulfiller{RecordID: id, Phone: phone, Name: name}, fixedNow)
}

func TestGetFulfiller(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: fulfillerRow("f-1", "972500000001", "Avi")}}
	c := mustNewClient(t, db)

	f, found, err := c.GetFulfiller(context.Background(), "972500000001")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.Fulfiller{RecordID: "f-1", Phone: "972500000001", Name: "Avi"}, f)
	require.Equal(t, "FULFILLERS", sAttr(t, db.lastGetIn.Key, "PK"))
	require.Equal(t, "FULFILLER#972500000001", sAttr(t, db.lastGetIn.Key, "SK"))
}

func TestGetFulfiller_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, found, err := c.GetFulfiller(context.Background(), "972500000001")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCreateFulfiller(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	f, err := c.CreateFulfiller(context.Background(), "972500000001")
	require.NoError(t, err)
	require.Equal(t, domain.Fulfiller{RecordID: "rec-1", Phone: "972500000001"}, f)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutIn.ConditionExpression)
	require.NotContains(t, db.lastPutIn.Item, "name")
}

func TestCreateFulfiller_ExistingRecord(t *testing.T) {
	db := &fakeDynamo{
		putErr: conditionFailed(),
		getOut: &dynamodb.GetItemOutput{Item: fulfillerRow("f-1", "972500000001", "Avi")},
	}
	c := mustNewClient(t, db)

	f, err := c.CreateFulfiller(context.Background(), "972500000001")
	require.NoError(t, err)
	require.Equal(t, "f-1", f.RecordID)
}

func TestCreateFulfiller_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	c := mustNewClient(t, db)

	_, err := c.CreateFulfiller(context.Background(), "972500000001")
	require.ErrorContains(t, err, "CreateFulfiller")
	require.Nil(t, db.lastGetIn)
}

func TestListFulfillers_FollowsPages(t *testing.T) {
	next := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "FULFILLERS"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{fulfillerRow("f-1", "972500000001", "Avi")}, LastEvaluatedKey: next},
		{Items: []map[string]types.AttributeValue{fulfillerRow("f-2", "972500000002", "")}},
	}}
	c := mustNewClient(t, db)

	pool, err := c.ListFulfillers(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Fulfiller{
		{RecordID: "f-1", Phone: "972500000001", Name: "Avi"},
		{RecordID: "f-2", Phone: "972500000002"},
	}, pool)
	require.Len(t, db.queryIns, 2)
	require.Nil(t, db.queryIns[0].ExclusiveStartKey)
	require.Equal(t, next, db.queryIns[1].ExclusiveStartKey)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryIns[0].KeyConditionExpression)
}

func TestListFulfillers_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)

	_, err := c.ListFulfillers(context.Background())
	require.ErrorContains(t, err, "ListFulfillers")
}

func TestGetRequester(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: "REQUESTER#972500000100"},
		"SK":         &types.AttributeValueMemberS{Value: "PROFILE"},
		"id":         &types.AttributeValueMemberS{Value: "r-1"},
		"deliveries": &types.AttributeValueMemberN{Value: "2"},
	}}}
	c := mustNewClient(t, db)

	r, found, err := c.GetRequester(context.Background(), "972500000100")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.Requester{RecordID: "r-1", Phone: "972500000100", Returning: true}, r)
}

func TestGetRequester_FirstTimer(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "r-1"},
	}}}
	c := mustNewClient(t, db)

	r, _, err := c.GetRequester(context.Background(), "972500000100")
	require.NoError(t, err)
	require.False(t, r.Returning)
}

func TestCreateRequester(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	r, err := c.CreateRequester(context.Background(), "972500000100")
	require.NoError(t, err)
	require.Equal(t, domain.Requester{RecordID: "rec-1", Phone: "972500000100"}, r)
	require.Equal(t, "REQUESTER#972500000100", sAttr(t, db.lastPutIn.Item, "PK"))
}

func TestCreateRequester_ExistingRecord(t *testing.T) {
	db := &fakeDynamo{
		putErr: conditionFailed(),
		getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
			"id":         &types.AttributeValueMemberS{Value: "r-9"},
			"deliveries": &types.AttributeValueMemberN{Value: "1"},
		}},
	}
	c := mustNewClient(t, db)

	r, err := c.CreateRequester(context.Background(), "972500000100")
	require.NoError(t, err)
	require.Equal(t, "r-9", r.RecordID)
	require.True(t, r.Returning)
}
