// Package kvddb implements kvsdk.Remote on a DynamoDB table.
//
// All keys of a namespace share one partition: the table's partition key
// "ns" holds the namespace and the sort key "k" holds the key, so prefix
// listings are single-partition queries with begins_with on the sort key.
package kvddb

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/kvsdk"
)

const (
	PartitionKey = "ns"
	SortKey      = "k"
	// ExpirationAttribute can be configured as the table's TTL attribute.
	ExpirationAttribute = "exp"

	// MaxBatchWrite is the DynamoDB limit on requests in one BatchWriteItem.
	MaxBatchWrite = 25
)

// DynamoAPI is the part of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Store struct {
	ddb   DynamoAPI
	table string
	ns    string
	opts  storeOpts
}

var _ kvsdk.Remote = &Store{}

type Option func(*storeOpts)

type storeOpts struct {
	eventuallyConsistent bool
	now                  func() time.Time
	logger               zerolog.Logger
}

// WithEventuallyConsistentReads turns off consistent reads, which are on by default.
func WithEventuallyConsistentReads() Option {
	return func(o *storeOpts) {
		o.eventuallyConsistent = true
	}
}

// WithClock sets the time source used for TTLs and for hiding expired items.
func WithClock(now func() time.Time) Option {
	return func(o *storeOpts) {
		o.now = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *storeOpts) {
		o.logger = l
	}
}

// New returns the store of one namespace in the given table.
func New(ddb DynamoAPI, tableName, namespace string, opts ...Option) *Store {
	s := &Store{
		ddb:   ddb,
		table: tableName,
		ns:    namespace,
		opts: storeOpts{
			now:    time.Now,
			logger: zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// item is the stored form of one key.
type item struct {
	NS         string         `dynamodbav:"ns"`
	K          string         `dynamodbav:"k"`
	Value      []byte         `dynamodbav:"v,omitempty"`
	Metadata   kvsdk.Metadata `dynamodbav:"m,omitempty"`
	Expiration int64          `dynamodbav:"exp,omitempty"`
}

type itemKey struct {
	NS string `dynamodbav:"ns"`
	K  string `dynamodbav:"k"`
}

func (s *Store) key(k string) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(itemKey{NS: s.ns, K: k})
	return av, errors.Wrapf(err, "marshal key %s", k)
}

func (s *Store) item(kv kvsdk.KeyValue) (map[string]types.AttributeValue, error) {
	if kv.Key == "" {
		return nil, errors.New("key is required")
	}
	it := item{
		NS:         s.ns,
		K:          kv.Key,
		Value:      kv.Value,
		Metadata:   kv.Metadata,
		Expiration: kv.Expiration,
	}
	if kv.ExpirationTTL > 0 {
		it.Expiration = s.opts.now().Unix() + kv.ExpirationTTL
	}
	av, err := attributevalue.MarshalMap(it)
	return av, errors.Wrapf(err, "marshal item %s", kv.Key)
}

// expired reports items whose TTL passed but that DynamoDB has not swept yet.
func (s *Store) expired(it item) bool {
	return it.Expiration > 0 && it.Expiration <= s.opts.now().Unix()
}

func (s *Store) Get(ctx context.Context, key string) (*kvsdk.GetOutput, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, err
	}
	res, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            k,
		ConsistentRead: ptr(!s.opts.eventuallyConsistent),
	})
	if err != nil {
		return nil, remoteError("get", err)
	}
	if res.Item == nil {
		return &kvsdk.GetOutput{}, nil
	}
	var it item
	if err := attributevalue.UnmarshalMap(res.Item, &it); err != nil {
		return nil, errors.Wrapf(err, "unmarshal item %s", key)
	}
	if s.expired(it) {
		return &kvsdk.GetOutput{}, nil
	}
	return &kvsdk.GetOutput{
		Found:      true,
		Value:      it.Value,
		Metadata:   it.Metadata,
		Expiration: it.Expiration,
	}, nil
}

func (s *Store) Put(ctx context.Context, kv kvsdk.KeyValue) error {
	av, err := s.item(kv)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return remoteError("put", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return err
	}
	_, err = s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       k,
	})
	if err != nil {
		return remoteError("delete", err)
	}
	return nil
}

// BulkPut writes the items in BatchWriteItem groups of MaxBatchWrite. A key
// that appears twice is written once, with its last value.
func (s *Store) BulkPut(ctx context.Context, kvs []kvsdk.KeyValue) error {
	if err := kvsdk.CheckBulk(len(kvs)); err != nil {
		return err
	}
	last := make(map[string]int, len(kvs))
	for i, kv := range kvs {
		last[kv.Key] = i
	}
	reqs := make([]types.WriteRequest, 0, len(last))
	for i, kv := range kvs {
		if last[kv.Key] != i {
			continue
		}
		av, err := s.item(kv)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	return s.batchWrite(ctx, "bulk put", reqs)
}

func (s *Store) BulkDelete(ctx context.Context, keys []string) error {
	if err := kvsdk.CheckBulk(len(keys)); err != nil {
		return err
	}
	seen := make(map[string]bool, len(keys))
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		k, err := s.key(key)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}
	return s.batchWrite(ctx, "bulk delete", reqs)
}

// batchWrite sends one BatchWriteItem per group. Unprocessed items are not
// retried; they fail the call.
func (s *Store) batchWrite(ctx context.Context, op string, reqs []types.WriteRequest) error {
	for start := 0; start < len(reqs); start += MaxBatchWrite {
		end := min(start+MaxBatchWrite, len(reqs))
		res, err := s.ddb.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: reqs[start:end]},
		})
		if err != nil {
			return remoteError(op, err)
		}
		if n := len(res.UnprocessedItems[s.table]); n > 0 {
			return &kvsdk.RemoteError{
				Op:     op,
				Errors: []kvsdk.APIError{{Message: pluralize(n, "item") + " unprocessed"}},
			}
		}
		s.opts.logger.Debug().Str("op", op).Int("items", end-start).Msg("batch write")
	}
	return nil
}

// List queries the namespace partition. The cursor is the base64 encoded
// sort key of the last item read.
func (s *Store) List(ctx context.Context, in kvsdk.ListInput) (*kvsdk.ListOutput, error) {
	cond := expression.Key(PartitionKey).Equal(expression.Value(s.ns))
	if in.Prefix != "" {
		cond = cond.And(expression.Key(SortKey).BeginsWith(in.Prefix))
	}
	expr, err := expression.NewBuilder().WithKeyCondition(cond).Build()
	if err != nil {
		return nil, errors.Wrap(err, "build list expression")
	}

	var start map[string]types.AttributeValue
	if in.Cursor != "" {
		last, err := base64.RawURLEncoding.DecodeString(in.Cursor)
		if err != nil {
			return nil, errors.Wrap(err, "invalid cursor")
		}
		if start, err = s.key(string(last)); err != nil {
			return nil, err
		}
	}

	res, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &s.table,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            ptr(!s.opts.eventuallyConsistent),
		Limit:                     ptr(int32(kvsdk.NormalizeLimit(in.Limit))),
		ExclusiveStartKey:         start,
	})
	if err != nil {
		return nil, remoteError("list", err)
	}

	out := &kvsdk.ListOutput{Items: make([]kvsdk.ListItem, 0, len(res.Items))}
	for _, raw := range res.Items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, errors.Wrap(err, "unmarshal listed item")
		}
		if s.expired(it) {
			continue
		}
		out.Items = append(out.Items, kvsdk.ListItem{
			Name:       it.K,
			Metadata:   it.Metadata,
			Expiration: it.Expiration,
		})
	}
	if res.LastEvaluatedKey != nil {
		var last itemKey
		if err := attributevalue.UnmarshalMap(res.LastEvaluatedKey, &last); err != nil {
			return nil, errors.Wrap(err, "unmarshal last evaluated key")
		}
		out.Cursor = base64.RawURLEncoding.EncodeToString([]byte(last.K))
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}
