package objdb

import (
	"context"
	"testing"

	"github.com/mjl-/objdb/kvstore/memkv"
)

func TestOpenAssignsSchemaVersionOne(t *testing.T) {
	db, ctx := openTestDB(t)
	if db.Schema().Version != 1 {
		t.Fatalf("first schema version = %d, want 1", db.Schema().Version)
	}
	_ = ctx
}

func TestOpenReusesIdenticalSchema(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	db1, err := Open(ctx, store, testSchema())
	tcheck(t, err, "first open")
	db2, err := Open(ctx, store, testSchema())
	tcheck(t, err, "second open")
	if db1.Schema().Version != db2.Schema().Version {
		t.Fatalf("identical schemas got different versions: %d vs %d", db1.Schema().Version, db2.Schema().Version)
	}
}

func TestOpenAssignsNewVersionOnChange(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	db1, err := Open(ctx, store, testSchema())
	tcheck(t, err, "first open")

	s2 := NewSchema().AddType(personType().AddField(&Field{
		Name: "Nickname", StorageID: 120,
		Simple: &SimpleSubField{Name: "Nickname", StorageID: 120, Kind: KindString},
	}))
	db2, err := Open(ctx, store, s2)
	tcheck(t, err, "second open with new field")
	if db2.Schema().Version != db1.Schema().Version+1 {
		t.Fatalf("changed schema version = %d, want %d", db2.Schema().Version, db1.Schema().Version+1)
	}
}

func TestOpenRejectsIncompatibleFieldChange(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	_, err := Open(ctx, store, testSchema())
	tcheck(t, err, "first open")

	bad := NewObjectType("Person", stPerson)
	bad.AddField(&Field{Name: "Name", StorageID: fName, Simple: &SimpleSubField{Name: "Name", StorageID: fName, Kind: KindInt32}})
	_, err = Open(ctx, store, NewSchema().AddType(bad))
	tneed(t, err, ErrSchemaMismatch, "incompatible field kind change")
}

func TestReadCatalogAndLatestSchema(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	db1, err := Open(ctx, store, testSchema())
	tcheck(t, err, "first open")

	s2 := NewSchema().AddType(personType().AddField(&Field{
		Name: "Nickname", StorageID: 120,
		Simple: &SimpleSubField{Name: "Nickname", StorageID: 120, Kind: KindString},
	}))
	db2, err := Open(ctx, store, s2)
	tcheck(t, err, "second open")

	versions, err := ReadCatalog(ctx, store)
	tcheck(t, err, "ReadCatalog")
	if len(versions) != 2 {
		t.Fatalf("ReadCatalog returned %d versions, want 2", len(versions))
	}
	if _, ok := versions[db1.Schema().Version]; !ok {
		t.Fatalf("ReadCatalog missing version %d", db1.Schema().Version)
	}

	latest, err := LatestSchema(ctx, store)
	tcheck(t, err, "LatestSchema")
	if latest.Version != db2.Schema().Version {
		t.Fatalf("LatestSchema version = %d, want %d", latest.Version, db2.Schema().Version)
	}
}

func TestLatestSchemaEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := memkv.New()
	_, err := LatestSchema(ctx, store)
	tneed(t, err, ErrStore, "LatestSchema on empty store")
}
