package objdb

import "testing"

func TestCreateAndReadDefaults(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		return err
	})
	tcheck(t, err, "create")

	err = db.Read(ctx, func(tx *Tx) error {
		exists, err := tx.Exists(id)
		tcheck(t, err, "exists")
		if !exists {
			t.Fatalf("created object does not exist")
		}
		v, err := tx.ReadSimple(id, fName)
		tcheck(t, err, "read default name")
		if v != "" {
			t.Fatalf("default Name = %q, want empty", v)
		}
		age, err := tx.ReadSimple(id, fAge)
		tcheck(t, err, "read default age")
		if age != int32(0) {
			t.Fatalf("default Age = %v, want 0", age)
		}
		return nil
	})
	tcheck(t, err, "read")
}

func TestWriteSimpleAndIndex(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		if err := tx.WriteSimple(id, fName, "alice"); err != nil {
			return err
		}
		return tx.WriteSimple(id, fAge, int32(30))
	})
	tcheck(t, err, "write")

	err = db.Read(ctx, func(tx *Tx) error {
		v, err := tx.ReadSimple(id, fName)
		tcheck(t, err, "read name")
		if v != "alice" {
			t.Fatalf("Name = %q, want alice", v)
		}

		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.FieldByID(fName)
		c, err := tx.QueryIndex(f.Simple)
		tcheck(t, err, "QueryIndex")
		defer c.Close()
		found := false
		for c.Next() {
			e, err := c.Entry()
			tcheck(t, err, "Entry")
			if e.Value == "alice" && e.ID == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("index entry for alice not found")
		}
		return nil
	})
	tcheck(t, err, "read back")
}

func TestWriteSimpleRejectsWrongKind(t *testing.T) {
	db, ctx := openTestDB(t)
	err := db.Write(ctx, func(tx *Tx) error {
		id, err := tx.Create(stPerson)
		if err != nil {
			return err
		}
		return tx.WriteSimple(id, fName, 5)
	})
	if err == nil {
		t.Fatalf("expected error writing int into a string field")
	}
}

func TestReadWriteDeletedObject(t *testing.T) {
	db, ctx := openTestDB(t)
	err := db.Write(ctx, func(tx *Tx) error {
		id, err := tx.Create(stPerson)
		if err != nil {
			return err
		}
		ok, err := tx.Delete(id)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("Delete reported not found for a live object")
		}
		_, err = tx.ReadSimple(id, fName)
		tneed(t, err, ErrDeletedObject, "ReadSimple after delete")
		return nil
	})
	tcheck(t, err, "delete then read")
}

func TestScanType(t *testing.T) {
	db, ctx := openTestDB(t)
	var ids []ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			id, err := tx.Create(stPerson)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	tcheck(t, err, "create three")

	var seen []ObjId
	err = db.Read(ctx, func(tx *Tx) error {
		return tx.ScanType(stPerson, func(id ObjId) error {
			seen = append(seen, id)
			return nil
		})
	})
	tcheck(t, err, "scan")
	if len(seen) != len(ids) {
		t.Fatalf("ScanType saw %d objects, want %d", len(seen), len(ids))
	}
}

func TestDeleteCascadeUnreference(t *testing.T) {
	db, ctx := openTestDB(t)
	var boss, report ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		boss, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		report, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		return tx.WriteSimple(report, fManager, boss)
	})
	tcheck(t, err, "setup manager reference")

	err = db.Write(ctx, func(tx *Tx) error {
		_, err := tx.Delete(boss)
		return err
	})
	tcheck(t, err, "delete boss")

	err = db.Read(ctx, func(tx *Tx) error {
		v, err := tx.ReadSimple(report, fManager)
		tcheck(t, err, "read manager after cascade")
		ref, ok := v.(ObjId)
		if !ok || !ref.IsZero() {
			t.Fatalf("Manager reference not cleared after OnDeleteUnreference cascade, got %v", v)
		}
		return nil
	})
	tcheck(t, err, "verify unreference")
}
