package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"courier-dispatch/internal/domain"
)

func newRecordID() string { return uuid.NewString() }

func fulfillerSK(phone string) string { return skFulfillerPrefix + phone }

func requesterPK(phone string) string { return pkRequesterPrefix + phone }

func (c *Client) GetFulfiller(ctx context.Context, phone string) (domain.Fulfiller, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(pkFulfillers, fulfillerSK(phone)),
	})
	if err != nil {
		return domain.Fulfiller{}, false, wrap("GetFulfiller", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Fulfiller{}, false, nil
	}
	f, err := itemToFulfiller(out.Item)
	if err != nil {
		return domain.Fulfiller{}, false, fmt.Errorf("repository: GetFulfiller decode: %w", err)
	}
	return f, true, nil
}

// CreateFulfiller registers phone in the fulfiller pool. Registering an
// existing phone returns the stored record.
func (c *Client) CreateFulfiller(ctx context.Context, phone string) (domain.Fulfiller, error) {
	f := domain.Fulfiller{RecordID: c.newID(), Phone: phone}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                fulfillerItem(f, c.now()),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return f, nil
	}
	if err = wrap("CreateFulfiller", err); !errors.Is(err, ErrConditionFailed) {
		return domain.Fulfiller{}, err
	}
	existing, found, getErr := c.GetFulfiller(ctx, phone)
	if getErr != nil || !found {
		return domain.Fulfiller{}, err
	}
	return existing, nil
}

// ListFulfillers returns the whole pool, following pagination.
func (c *Client) ListFulfillers(ctx context.Context) ([]domain.Fulfiller, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     str(pkFulfillers),
			":prefix": str(skFulfillerPrefix),
		},
	}

	var pool []domain.Fulfiller
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, wrap("ListFulfillers", err)
		}
		for _, item := range out.Items {
			f, err := itemToFulfiller(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListFulfillers decode: %w", err)
			}
			pool = append(pool, f)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return pool, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// GetRequester loads a requester. Returning is set once a job of theirs
// has been delivered.
func (c *Client) GetRequester(ctx context.Context, phone string) (domain.Requester, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(requesterPK(phone), skRequesterMeta),
	})
	if err != nil {
		return domain.Requester{}, false, wrap("GetRequester", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Requester{}, false, nil
	}
	id, err := strAttr(out.Item, "id")
	if err != nil {
		return domain.Requester{}, false, fmt.Errorf("repository: GetRequester decode: %w", err)
	}
	deliveries, _ := intAttr(out.Item, "deliveries")
	return domain.Requester{
		RecordID:  id,
		Phone:     phone,
		Name:      optStr(out.Item, "name"),
		Returning: deliveries > 0,
	}, true, nil
}

// CreateRequester registers a requester. An existing profile is kept.
func (c *Client) CreateRequester(ctx context.Context, phone string) (domain.Requester, error) {
	r := domain.Requester{RecordID: c.newID(), Phone: phone}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        str(requesterPK(phone)),
			"SK":        str(skRequesterMeta),
			"id":        str(r.RecordID),
			"phone":     str(phone),
			"createdAt": timestamp(c.now()),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return r, nil
	}
	if err = wrap("CreateRequester", err); !errors.Is(err, ErrConditionFailed) {
		return domain.Requester{}, err
	}
	existing, found, getErr := c.GetRequester(ctx, phone)
	if getErr != nil || !found {
		return domain.Requester{}, err
	}
	return existing, nil
}

func fulfillerItem(f domain.Fulfiller, createdAt time.Time) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        str(pkFulfillers),
		"SK":        str(fulfillerSK(f.Phone)),
		"id":        str(f.RecordID),
		"phone":     str(f.Phone),
		"createdAt": timestamp(createdAt),
	}
	if f.Name != "" {
		item["name"] = str(f.Name)
	}
	return item
}

func itemToFulfiller(item map[string]types.AttributeValue) (domain.Fulfiller, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Fulfiller{}, err
	}
	phone, err := strAttr(item, "phone")
	if err != nil {
		return domain.Fulfiller{}, err
	}
	return domain.Fulfiller{RecordID: id, Phone: phone, Name: optStr(item, "name")}, nil
}
