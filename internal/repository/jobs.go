package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"courier-dispatch/internal/domain"
)

func jobPK(id string) string { return pkJobPrefix + id }

// archivePK buckets finished jobs by the month they were created.
func archivePK(j domain.Job) string {
	return pkArchivePrefix + j.CreatedAt.UTC().Format("2006-01")
}

// SaveJob stores a new job. It fails if the id is already taken.
func (c *Client) SaveJob(ctx context.Context, job domain.Job) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                jobItem(jobPK(job.ID), skJobMeta, job),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return wrap("SaveJob", err)
	}
	return nil
}

// GetJob loads a live job. found is false when no such job is stored.
func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(jobPK(id), skJobMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Job{}, false, wrap("GetJob", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Job{}, false, nil
	}
	job, err := itemToJob(out.Item)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("repository: GetJob decode: %w", err)
	}
	return job, true, nil
}

// UpdateFulfillerPrice raises the offered price of an open job. Lower or
// equal prices are rejected with ErrConditionFailed.
func (c *Client) UpdateFulfillerPrice(ctx context.Context, jobID string, price int) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(jobID), skJobMeta),
		UpdateExpression:    aws.String("SET priceFulfiller = :price, updatedAt = :now"),
		ConditionExpression: aws.String("#status = :open AND priceFulfiller < :price"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":price": num(price),
			":now":   timestamp(c.now()),
			":open":  str(string(domain.StatusOpen)),
		},
	})
	if err != nil {
		return wrap("UpdateFulfillerPrice", err)
	}
	return nil
}

// AssignJob records f as the job's fulfiller. Only an open job can be
// assigned; anything else fails with ErrConditionFailed.
func (c *Client) AssignJob(ctx context.Context, jobID string, f domain.Fulfiller) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(jobID), skJobMeta),
		UpdateExpression:    aws.String("SET #status = :assigned, fulfillerId = :fid, fulfillerPhone = :fphone, updatedAt = :now"),
		ConditionExpression: aws.String("#status = :open"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":assigned": str(string(domain.StatusAssigned)),
			":open":     str(string(domain.StatusOpen)),
			":fid":      str(f.RecordID),
			":fphone":   str(f.Phone),
			":now":      timestamp(c.now()),
		},
	})
	if err != nil {
		return wrap("AssignJob", err)
	}
	return nil
}

func (c *Client) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(jobPK(jobID), skJobMeta),
		UpdateExpression:    aws.String("SET #status = :status, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": str(string(status)),
			":now":    timestamp(c.now()),
		},
	})
	if err != nil {
		return wrap("UpdateStatus", err)
	}
	return nil
}

// ArchiveJob moves a finished job out of the live keyspace in one
// transaction. A completed job also counts towards its requester's
// delivery history.
func (c *Client) ArchiveJob(ctx context.Context, job domain.Job) error {
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName: aws.String(c.tableName),
				Item:      jobItem(archivePK(job), jobPK(job.ID), job),
			},
		},
		{
			Delete: &types.Delete{
				TableName: aws.String(c.tableName),
				Key:       key(jobPK(job.ID), skJobMeta),
			},
		},
	}
	if job.Status == domain.StatusCompleted && job.Requester.Phone != "" {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName:        aws.String(c.tableName),
				Key:              key(requesterPK(job.Requester.Phone), skRequesterMeta),
				UpdateExpression: aws.String("ADD deliveries :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": num(1),
				},
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return wrap("ArchiveJob", err)
	}
	return nil
}

func locationItem(l domain.Location) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"lat":     float(l.Lat),
		"lng":     float(l.Lng),
		"address": str(l.Address),
		"city":    str(l.City),
	}}
}

func jobItem(pk, sk string, j domain.Job) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             str(pk),
		"SK":             str(sk),
		"id":             str(j.ID),
		"status":         str(string(j.Status)),
		"requesterId":    str(j.Requester.RecordID),
		"requesterPhone": str(j.Requester.Phone),
		"requesterName":  str(j.Requester.Name),
		"size":           str(string(j.Size)),
		"speed":          str(string(j.Speed)),
		"pickup":         locationItem(j.Pickup),
		"dropoff":        locationItem(j.Dropoff),
		"pickupContact":  str(j.PickupContact),
		"dropoffContact": str(j.DropoffContact),
		"notes":          str(j.Notes),
		"priceRequester": num(j.PriceForRequester),
		"priceFulfiller": num(j.PriceForFulfiller),
		"createdAt":      timestamp(j.CreatedAt),
		"updatedAt":      timestamp(j.UpdatedAt),
	}
	if j.FulfillerPhone != "" {
		item["fulfillerId"] = str(j.FulfillerID)
		item["fulfillerPhone"] = str(j.FulfillerPhone)
	}
	return item
}

func itemToLocation(item map[string]types.AttributeValue, key string) (domain.Location, error) {
	v, ok := item[key]
	if !ok {
		return domain.Location{}, fmt.Errorf("repository: missing attribute %q", key)
	}
	m, ok := v.(*types.AttributeValueMemberM)
	if !ok {
		return domain.Location{}, fmt.Errorf("repository: attribute %q is not a map", key)
	}
	lat, err := floatAttr(m.Value, "lat")
	if err != nil {
		return domain.Location{}, err
	}
	lng, err := floatAttr(m.Value, "lng")
	if err != nil {
		return domain.Location{}, err
	}
	return domain.Location{Lat: lat, Lng: lng, Address: optStr(m.Value, "address"), City: optStr(m.Value, "city")}, nil
}

func itemToJob(item map[string]types.AttributeValue) (domain.Job, error) {
	var (
		j   domain.Job
		err error
	)
	if j.ID, err = strAttr(item, "id"); err != nil {
		return domain.Job{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Job{}, err
	}
	j.Status = domain.JobStatus(status)
	if j.Requester.Phone, err = strAttr(item, "requesterPhone"); err != nil {
		return domain.Job{}, err
	}
	j.Requester.RecordID = optStr(item, "requesterId")
	j.Requester.Name = optStr(item, "requesterName")
	j.FulfillerID = optStr(item, "fulfillerId")
	j.FulfillerPhone = optStr(item, "fulfillerPhone")
	j.Size = domain.PackageSize(optStr(item, "size"))
	j.Speed = domain.SpeedCategory(optStr(item, "speed"))
	if j.Pickup, err = itemToLocation(item, "pickup"); err != nil {
		return domain.Job{}, err
	}
	if j.Dropoff, err = itemToLocation(item, "dropoff"); err != nil {
		return domain.Job{}, err
	}
	j.PickupContact = optStr(item, "pickupContact")
	j.DropoffContact = optStr(item, "dropoffContact")
	j.Notes = optStr(item, "notes")
	if j.PriceForRequester, err = intAttr(item, "priceRequester"); err != nil {
		return domain.Job{}, err
	}
	if j.PriceForFulfiller, err = intAttr(item, "priceFulfiller"); err != nil {
		return domain.Job{}, err
	}
	if j.CreatedAt, err = timeAttr(item, "createdAt"); err != nil {
		return domain.Job{}, err
	}
	if j.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}
