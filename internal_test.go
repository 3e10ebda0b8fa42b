package objdb

import (
	"context"
	"errors"
	"testing"

	"github.com/mjl-/objdb/kvstore/memkv"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

func tneed(t *testing.T, err error, expErr error, msg string) {
	t.Helper()
	if err == nil || !errors.Is(err, expErr) {
		t.Fatalf("%s: got %v, expected error %v", msg, err, expErr)
	}
}

func tcompare(t *testing.T, got, exp any, msg string) {
	t.Helper()
	if !deepEqualValue(got, exp) {
		t.Fatalf("%s: got %#v, expected %#v", msg, got, exp)
	}
}

func deepEqualValue(a, b any) bool {
	// ObjId and other comparable field values compare fine with ==;
	// fall back to reflect.DeepEqual for slices/maps via %#v string
	// comparison would be fragile, so use a small type switch instead.
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualValue(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// testPerson is the object type shared by most tests: one of each
// field shape (simple indexed, simple unindexed, reference, counter,
// list, set, map) so object-layer, index, and complex-field behavior can
// all be exercised against the same schema.
const (
	stPerson uint64 = 100
	fName    uint64 = 101
	fAge     uint64 = 102
	fManager uint64 = 103
	fVisits  uint64 = 104
	fTags    uint64 = 105
	fTagElem uint64 = 106
	fScores  uint64 = 107
	fScoresK uint64 = 108
	fScoresV uint64 = 109
	fNicks   uint64 = 111
	fNickEl  uint64 = 112
)

func personType() *ObjectType {
	t := NewObjectType("Person", stPerson)
	t.AddField(&Field{Name: "Name", StorageID: fName, Simple: &SimpleSubField{Name: "Name", StorageID: fName, Kind: KindString, Indexed: true}})
	t.AddField(&Field{Name: "Age", StorageID: fAge, Simple: &SimpleSubField{Name: "Age", StorageID: fAge, Kind: KindInt32, Indexed: true}})
	t.AddField(&Field{Name: "Manager", StorageID: fManager, Simple: &SimpleSubField{Name: "Manager", StorageID: fManager, Kind: KindReference, Indexed: true, OnDelete: OnDeleteUnreference}})
	t.AddField(&Field{Name: "Visits", StorageID: fVisits, Counter: true, Simple: &SimpleSubField{Name: "Visits", StorageID: fVisits, Kind: KindInt64}})
	t.AddField(&Field{Name: "Tags", StorageID: fTags, Complex: &ComplexField{
		Collection: CollectionSet,
		Elem:       SimpleSubField{Name: "Tags", StorageID: fTagElem, Kind: KindString},
	}})
	t.AddField(&Field{Name: "Scores", StorageID: fScores, Complex: &ComplexField{
		Collection: CollectionMap,
		Elem:       SimpleSubField{Name: "Scores.value", StorageID: fScoresV, Kind: KindInt32},
		Key:        &SimpleSubField{Name: "Scores.key", StorageID: fScoresK, Kind: KindString},
	}})
	t.AddField(&Field{Name: "Nicknames", StorageID: fNicks, Complex: &ComplexField{
		Collection: CollectionList,
		Elem:       SimpleSubField{Name: "Nicknames", StorageID: fNickEl, Kind: KindString},
	}})
	t, err := t.AddComposite(&CompositeIndex{Name: "NameAge", StorageID: 110, Fields: []string{"Name", "Age"}})
	if err != nil {
		panic(err)
	}
	return t
}

func testSchema() *Schema {
	return NewSchema().AddType(personType())
}

func openTestDB(t *testing.T) (*DB, context.Context) {
	t.Helper()
	ctx := context.Background()
	store := memkv.New()
	db, err := Open(ctx, store, testSchema())
	tcheck(t, err, "open")
	return db, ctx
}
