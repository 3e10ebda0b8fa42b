// Package dynamokv is an optional objdb backend over Amazon DynamoDB,
// modeled on cloudxsgmbh-dynamodb-onetable-go's single-table item
// encoding: objdb's flat byte-key namespace is stored as one DynamoDB item
// per key, with the raw key hex-encoded into the partition key attribute
// "pk" and the value stored as a binary attribute "v". Range scans page
// through a full-table Scan with ExclusiveStartKey, the way onetable-go
// paginates scans, then filter and sort the items client-side by decoded
// key. DeleteRange batches deletes through
// BatchWriteItem 25 items at a time (the DynamoDB batch limit).
//
// This backend trades BoltDB's single-process file lock for a shared,
// network-accessible store; it has no native sequence counter, so
// NextSequence always returns kvstore.ErrNoSequence and callers fall back
// to objdb's google/uuid-based id allocator.
package dynamokv

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mjl-/objdb/kvstore"
)

const batchLimit = 25

// item is the single-attribute-set shape every stored key/value pair is
// marshaled to and from, mirroring onetable-go's item structs.
type item struct {
	PK string `dynamodbav:"pk"`
	V  []byte `dynamodbav:"v"`
}

// Store talks to one DynamoDB table whose only key attribute is a string
// hash key "pk" holding the hex-encoded objdb key.
type Store struct {
	client *dynamodb.Client
	table  string
}

// New wraps an existing DynamoDB client for use as an objdb backend. The
// table must already exist with a string hash key named "pk".
func New(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) Close() error { return nil }

func (s *Store) Begin(ctx context.Context, writable bool) (kvstore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// DynamoDB has no ad-hoc multi-statement transaction primitive as
	// cheap as BoltDB's; objdb issues one request per KV operation and
	// relies on the object layer's own atomicity bookkeeping (it only
	// calls Commit once all content+index writes for a mutation have
	// succeeded). Writes are not routed through TransactWriteItems, so
	// there is no cross-key atomicity.
	return &tx{ctx: ctx, s: s, writable: writable}, nil
}

type tx struct {
	ctx      context.Context
	s        *Store
	writable bool
	done     bool
}

func (t *tx) checkLive() error {
	if t.done {
		return kvstore.ErrStale
	}
	return t.ctx.Err()
}

func (t *tx) checkWritable() error {
	if !t.writable {
		return kvstore.ErrReadOnly
	}
	return nil
}

func pkOf(key []byte) string { return hex.EncodeToString(key) }

func (t *tx) Get(key []byte) ([]byte, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	out, err := t.s.client.GetItem(t.ctx, &dynamodb.GetItemInput{
		TableName: &t.s.table,
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pkOf(key)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamokv get: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamokv unmarshal: %w", err)
	}
	return it.V, nil
}

func (t *tx) Put(key, value []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item{PK: pkOf(key), V: value})
	if err != nil {
		return fmt.Errorf("dynamokv marshal: %w", err)
	}
	_, err = t.s.client.PutItem(t.ctx, &dynamodb.PutItemInput{TableName: &t.s.table, Item: av})
	if err != nil {
		return fmt.Errorf("dynamokv put: %w", err)
	}
	return nil
}

func (t *tx) Delete(key []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.s.client.DeleteItem(t.ctx, &dynamodb.DeleteItemInput{
		TableName: &t.s.table,
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pkOf(key)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamokv delete: %w", err)
	}
	return nil
}

// scanRange performs a full table scan and filters client-side by decoded
// key range. objdb's key ranges are always prefix-bounded (an object's
// content range, one field's index range, and so on), so in practice this
// touches a small slice of the table; a production deployment with very
// large tables would instead maintain a GSI sorted on the decoded key and
// Query it, the way onetable-go does for its access patterns; this backend
// defines no such GSI.
func (t *tx) scanRange(lo, hi []byte) ([]kvstore.KVPair, error) {
	var pairs []kvstore.KVPair
	var startKey map[string]types.AttributeValue
	for {
		out, err := t.s.client.Scan(t.ctx, &dynamodb.ScanInput{
			TableName:         &t.s.table,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamokv scan: %w", err)
		}
		for _, raw := range out.Items {
			var it item
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("dynamokv unmarshal: %w", err)
			}
			key, err := hex.DecodeString(it.PK)
			if err != nil {
				return nil, fmt.Errorf("dynamokv decode pk: %w", err)
			}
			if inRange(key, lo, hi) {
				pairs = append(pairs, kvstore.KVPair{Key: key, Value: it.V})
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.Slice(pairs, func(i, j int) bool { return compareBytes(pairs[i].Key, pairs[j].Key) < 0 })
	return pairs, nil
}

func inRange(k, lo, hi []byte) bool {
	if lo != nil && compareBytes(k, lo) < 0 {
		return false
	}
	if hi != nil && compareBytes(k, hi) >= 0 {
		return false
	}
	return true
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func (t *tx) DeleteRange(lo, hi []byte) error {
	if err := t.checkLive(); err != nil {
		return err
	}
	if err := t.checkWritable(); err != nil {
		return err
	}
	pairs, err := t.scanRange(lo, hi)
	if err != nil {
		return err
	}
	for i := 0; i < len(pairs); i += batchLimit {
		end := i + batchLimit
		if end > len(pairs) {
			end = len(pairs)
		}
		reqs := make([]types.WriteRequest, 0, end-i)
		for _, p := range pairs[i:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"pk": &types.AttributeValueMemberS{Value: pkOf(p.Key)},
					},
				},
			})
		}
		_, err := t.s.client.BatchWriteItem(t.ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{t.s.table: reqs},
		})
		if err != nil {
			return fmt.Errorf("dynamokv batch delete: %w", err)
		}
	}
	return nil
}

func (t *tx) GetRange(lo, hi []byte, reverse bool) (kvstore.Iterator, error) {
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	pairs, err := t.scanRange(lo, hi)
	if err != nil {
		return nil, err
	}
	if reverse {
		for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
			pairs[i], pairs[j] = pairs[j], pairs[i]
		}
	}
	return &iterator{pairs: pairs, i: -1}, nil
}

type iterator struct {
	pairs []kvstore.KVPair
	i     int
}

func (it *iterator) Next() bool {
	it.i++
	return it.i < len(it.pairs)
}
func (it *iterator) Pair() kvstore.KVPair { return it.pairs[it.i] }
func (it *iterator) Err() error           { return nil }
func (it *iterator) Close() error         { return nil }

func (t *tx) NextSequence(namespace []byte) (uint64, error) {
	return 0, kvstore.ErrNoSequence
}

func (t *tx) Commit() error {
	if err := t.checkLive(); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	return nil
}
