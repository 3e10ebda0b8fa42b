package objdb

import "testing"

func TestListAppendInsertRemove(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Nicknames")
		if err := tx.ListAppend(id, f, "al"); err != nil {
			return err
		}
		if err := tx.ListAppend(id, f, "ali"); err != nil {
			return err
		}
		return tx.ListInsert(id, f, 1, "alice")
	})
	tcheck(t, err, "list append/insert")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Nicknames")
		got, err := tx.ListGet(id, f)
		tcheck(t, err, "ListGet")
		want := []any{"al", "alice", "ali"}
		tcompare(t, got, want, "list order after insert")
		return nil
	})
	tcheck(t, err, "read list")

	err = db.Write(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Nicknames")
		return tx.ListRemoveAt(id, f, 0)
	})
	tcheck(t, err, "list remove")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Nicknames")
		got, err := tx.ListGet(id, f)
		tcheck(t, err, "ListGet after remove")
		want := []any{"alice", "ali"}
		tcompare(t, got, want, "list order after remove")
		return nil
	})
	tcheck(t, err, "read list after remove")
}

func TestSetAddRemoveMembers(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		if err := tx.SetAdd(id, f, "a"); err != nil {
			return err
		}
		if err := tx.SetAdd(id, f, "b"); err != nil {
			return err
		}
		return tx.SetAdd(id, f, "a") // duplicate, no-op
	})
	tcheck(t, err, "set add")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		members, err := tx.SetMembers(id, f)
		tcheck(t, err, "SetMembers")
		if len(members) != 2 {
			t.Fatalf("SetMembers = %v, want 2 unique members", members)
		}
		return nil
	})
	tcheck(t, err, "read members")

	err = db.Write(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		return tx.SetRemove(id, f, "a")
	})
	tcheck(t, err, "set remove")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		members, err := tx.SetMembers(id, f)
		tcheck(t, err, "SetMembers after remove")
		if len(members) != 1 || members[0] != "b" {
			t.Fatalf("SetMembers after remove = %v, want [b]", members)
		}
		return nil
	})
	tcheck(t, err, "read after remove")
}

func TestMapSetGetDelete(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		if err := tx.MapSet(id, f, "math", int32(90)); err != nil {
			return err
		}
		return tx.MapSet(id, f, "art", int32(70))
	})
	tcheck(t, err, "map set")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		keys, values, err := tx.MapGet(id, f)
		tcheck(t, err, "MapGet")
		got := map[string]int32{}
		for i, k := range keys {
			got[k.(string)] = values[i].(int32)
		}
		if got["math"] != 90 || got["art"] != 70 {
			t.Fatalf("MapGet = %v, want math=90 art=70", got)
		}
		return nil
	})
	tcheck(t, err, "read map")

	err = db.Write(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		return tx.MapDelete(id, f, "math")
	})
	tcheck(t, err, "map delete")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		keys, _, err := tx.MapGet(id, f)
		tcheck(t, err, "MapGet after delete")
		if len(keys) != 1 || keys[0] != "art" {
			t.Fatalf("MapGet after delete = %v, want [art]", keys)
		}
		return nil
	})
	tcheck(t, err, "read map after delete")
}

func TestMapSetOverwritesExistingKey(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		if err := tx.MapSet(id, f, "math", int32(90)); err != nil {
			return err
		}
		return tx.MapSet(id, f, "math", int32(95))
	})
	tcheck(t, err, "map overwrite")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Scores")
		keys, values, err := tx.MapGet(id, f)
		tcheck(t, err, "MapGet")
		if len(keys) != 1 || values[0] != int32(95) {
			t.Fatalf("MapGet after overwrite = keys %v values %v, want [math]=[95]", keys, values)
		}
		return nil
	})
	tcheck(t, err, "read overwritten map")
}
