package dynamodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/radarsiope/radar/data"
)

var _ data.Store = &DynamoDB{}

// reserved attribute names, document fields live next to them on the item
const (
	pathAttr       = "_path"
	collectionAttr = "_collection"
)

// DynamoDB implements the store interface with one item per document
type DynamoDB struct {
	dynDB     *dynamodb.DynamoDB
	tableName string
}

//GetNewDynamoDB gets a new dynamodb database or panics
func GetNewDynamoDB(table string) *DynamoDB {
	awsSession := session.Must(session.NewSession())
	dynDB := dynamodb.New(awsSession)

	return &DynamoDB{
		dynDB:     dynDB,
		tableName: table,
	}
}

// Start implements Store Start(). The table is expected to exist already.
func (d *DynamoDB) Start() error {
	return nil
}

func key(path string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		pathAttr: {
			S: aws.String(path),
		},
	}
}

// Get gets a document by path
func (d *DynamoDB) Get(ctx context.Context, path string) (data.Document, error) {
	o, err := d.dynDB.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		Key:            key(path),
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return data.Document{}, fmt.Errorf("DynamoDB - failed to get document: %w", err)
	}

	if len(o.Item) == 0 {
		return data.Document{}, data.ErrNotFound
	}

	return itemToDocument(o.Item)
}

func itemToDocument(item map[string]*dynamodb.AttributeValue) (data.Document, error) {
	f := data.Fields{}
	err := dynamodbattribute.UnmarshalMap(item, &f)
	if err != nil {
		return data.Document{}, fmt.Errorf("DynamoDB - failed to unmarshal document: %w", err)
	}

	path, _ := f[pathAttr].(string)
	delete(f, pathAttr)
	delete(f, collectionAttr)

	return data.Document{Path: path, Fields: f}, nil
}

// Set puts the whole item, or updates the given attributes when merging
func (d *DynamoDB) Set(ctx context.Context, path string, fields data.Fields, merge bool) error {
	if merge {
		return d.update(ctx, path, fields, false)
	}

	item, err := dynamodbattribute.MarshalMap(fields)
	if err != nil {
		return fmt.Errorf("DynamoDB - failed to marshal document to attribute value: %w", err)
	}

	item[pathAttr] = &dynamodb.AttributeValue{S: aws.String(path)}
	item[collectionAttr] = &dynamodb.AttributeValue{S: aws.String(data.CollectionGroup(path))}

	_, err = d.dynDB.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("DynamoDB - failed to put document: %w", err)
	}

	return nil
}

// Update updates attributes of an existing item only
func (d *DynamoDB) Update(ctx context.Context, path string, fields data.Fields) error {
	return d.update(ctx, path, fields, true)
}

func (d *DynamoDB) update(ctx context.Context, path string, fields data.Fields, mustExist bool) error {
	names := map[string]*string{
		"#C": aws.String(collectionAttr),
	}
	values := map[string]*dynamodb.AttributeValue{
		":c": {S: aws.String(data.CollectionGroup(path))},
	}
	sets := []string{"#C = :c"}

	i := 0
	for k, v := range fields {
		av, err := dynamodbattribute.Marshal(v)
		if err != nil {
			return fmt.Errorf("DynamoDB - failed to marshal field %v: %w", k, err)
		}

		n, p := fmt.Sprintf("#F%d", i), fmt.Sprintf(":f%d", i)
		names[n] = aws.String(k)
		values[p] = av
		sets = append(sets, n+" = "+p)
		i++
	}

	in := &dynamodb.UpdateItemInput{
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		Key:                       key(path),
		TableName:                 aws.String(d.tableName),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
	}

	if mustExist {
		names["#P"] = aws.String(pathAttr)
		in.ConditionExpression = aws.String("attribute_exists(#P)")
	}

	_, err := d.dynDB.UpdateItemWithContext(ctx, in)
	if isConditionFailed(err) {
		return data.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("DynamoDB - failed to update document: %w", err)
	}

	return nil
}

// Increment uses an ADD update expression which dynamodb applies atomically
func (d *DynamoDB) Increment(ctx context.Context, path, field string, delta int64) (int64, error) {
	o, err := d.dynDB.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		ConditionExpression: aws.String("attribute_exists(#P)"),
		ExpressionAttributeNames: map[string]*string{
			"#P": aws.String(pathAttr),
			"#F": aws.String(field),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":d": {
				N: aws.String(fmt.Sprint(delta)),
			},
		},
		Key:              key(path),
		TableName:        aws.String(d.tableName),
		UpdateExpression: aws.String("ADD #F :d"),
		ReturnValues:     aws.String(dynamodb.ReturnValueUpdatedNew),
	})
	if isConditionFailed(err) {
		return 0, data.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("DynamoDB - failed to increment %v: %w", field, err)
	}

	var n int64
	err = dynamodbattribute.Unmarshal(o.Attributes[field], &n)
	if err != nil {
		return 0, fmt.Errorf("DynamoDB - failed to unmarshal incremented value: %w", err)
	}

	return n, nil
}

// Query scans the table with a filter on the collection and the equality conditions
func (d *DynamoDB) Query(ctx context.Context, q data.Query) ([]data.Document, error) {
	names := map[string]*string{
		"#C": aws.String(collectionAttr),
	}
	values := map[string]*dynamodb.AttributeValue{
		":c": {S: aws.String(q.CollectionGroup)},
	}
	conds := []string{"#C = :c"}

	for i, f := range q.Where {
		av, err := dynamodbattribute.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("DynamoDB - failed to marshal filter %v: %w", f.Field, err)
		}

		n, p := fmt.Sprintf("#W%d", i), fmt.Sprintf(":w%d", i)
		names[n] = aws.String(f.Field)
		values[p] = av
		conds = append(conds, n+" = "+p)
	}

	var docs []data.Document
	var convErr error

	err := d.dynDB.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(d.tableName),
		FilterExpression:          aws.String(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			doc, err := itemToDocument(item)
			if err != nil {
				convErr = err
				return false
			}
			docs = append(docs, doc)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("DynamoDB - failed to scan documents: %w", err)
	}
	if convErr != nil {
		return nil, convErr
	}

	return q.Apply(docs), nil
}

func isConditionFailed(err error) bool {
	aerr, ok := err.(awserr.Error)
	return ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func (d *DynamoDB) createTable() error {
	_, err := d.dynDB.CreateTable(&dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(pathAttr),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(pathAttr),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		TableName:   aws.String(d.tableName),
	})
	return err
}
