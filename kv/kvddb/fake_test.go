package kvddb_test

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/acksell/cfkv/kv/kvddb"
)

// fakeDynamo keeps one table in memory. Query understands the key
// conditions the expression builder emits for "ns = v" and
// "begins_with(k, v)".
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	batchCalls   int
	maxBatchSize int
	// unprocessed leaves the last n requests of every batch unapplied.
	unprocessed int
}

var _ kvddb.DynamoAPI = &fakeDynamo{}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func storageKey(key map[string]types.AttributeValue) string {
	return str(key[kvddb.PartitionKey]) + "\x00" + str(key[kvddb.SortKey])
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[storageKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[storageKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, storageKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if len(reqs) > 25 {
			return nil, fmt.Errorf("too many items in batch: %d", len(reqs))
		}
		f.maxBatchSize = max(f.maxBatchSize, len(reqs))
		seen := map[string]bool{}
		for i, r := range reqs {
			var key string
			if r.PutRequest != nil {
				key = storageKey(r.PutRequest.Item)
			} else {
				key = storageKey(r.DeleteRequest.Key)
			}
			if seen[key] {
				return nil, fmt.Errorf("provided list of item keys contains duplicates")
			}
			seen[key] = true
			if i >= len(reqs)-f.unprocessed {
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			if r.PutRequest != nil {
				f.items[key] = r.PutRequest.Item
			} else {
				delete(f.items, key)
			}
		}
	}
	return out, nil
}

var (
	equalRe      = regexp.MustCompile(`(#\d+) = (:\d+)`)
	beginsWithRe = regexp.MustCompile(`begins_with \((#\d+), (:\d+)\)`)
)

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	expr := *in.KeyConditionExpression
	var ns, prefix string
	if m := equalRe.FindStringSubmatch(expr); m != nil && in.ExpressionAttributeNames[m[1]] == kvddb.PartitionKey {
		ns = str(in.ExpressionAttributeValues[m[2]])
	} else {
		return nil, fmt.Errorf("unsupported key condition %q", expr)
	}
	if m := beginsWithRe.FindStringSubmatch(expr); m != nil && in.ExpressionAttributeNames[m[1]] == kvddb.SortKey {
		prefix = str(in.ExpressionAttributeValues[m[2]])
	}
	after := ""
	if in.ExclusiveStartKey != nil {
		after = str(in.ExclusiveStartKey[kvddb.SortKey])
	}

	var matched []map[string]types.AttributeValue
	for _, it := range f.items {
		k := str(it[kvddb.SortKey])
		if str(it[kvddb.PartitionKey]) != ns || !strings.HasPrefix(k, prefix) {
			continue
		}
		if in.ExclusiveStartKey != nil && k <= after {
			continue
		}
		matched = append(matched, it)
	}
	sort.Slice(matched, func(i, j int) bool {
		return str(matched[i][kvddb.SortKey]) < str(matched[j][kvddb.SortKey])
	})

	out := &dynamodb.QueryOutput{}
	limit := len(matched)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
		last := matched[limit-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			kvddb.PartitionKey: last[kvddb.PartitionKey],
			kvddb.SortKey:      last[kvddb.SortKey],
		}
	}
	out.Items = matched[:limit]
	return out, nil
}
