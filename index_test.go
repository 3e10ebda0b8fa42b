package objdb

import "testing"

func TestQueryIndexOrdering(t *testing.T) {
	db, ctx := openTestDB(t)
	names := []string{"carol", "alice", "bob"}
	err := db.Write(ctx, func(tx *Tx) error {
		for _, n := range names {
			id, err := tx.Create(stPerson)
			if err != nil {
				return err
			}
			if err := tx.WriteSimple(id, fName, n); err != nil {
				return err
			}
		}
		return nil
	})
	tcheck(t, err, "create three named")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Name")
		c, err := tx.QueryIndex(f.Simple)
		tcheck(t, err, "QueryIndex")
		defer c.Close()
		var got []string
		for c.Next() {
			e, err := c.Entry()
			tcheck(t, err, "Entry")
			got = append(got, e.Value.(string))
		}
		want := []string{"alice", "bob", "carol"}
		if len(got) != len(want) {
			t.Fatalf("QueryIndex returned %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("QueryIndex order = %v, want ascending %v", got, want)
			}
		}
		return nil
	})
	tcheck(t, err, "read index")
}

func TestQueryIndexRejectsUnindexedField(t *testing.T) {
	db, ctx := openTestDB(t)
	err := db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Visits")
		_, err := tx.QueryIndex(f.Simple)
		return err
	})
	tneed(t, err, ErrParam, "QueryIndex on unindexed field")
}

func TestQueryCompositeTuples(t *testing.T) {
	db, ctx := openTestDB(t)
	type row struct {
		name string
		age  int32
	}
	rows := []row{{"bob", 40}, {"alice", 30}, {"alice", 25}}
	err := db.Write(ctx, func(tx *Tx) error {
		for _, r := range rows {
			id, err := tx.Create(stPerson)
			if err != nil {
				return err
			}
			if err := tx.WriteSimple(id, fName, r.name); err != nil {
				return err
			}
			if err := tx.WriteSimple(id, fAge, r.age); err != nil {
				return err
			}
		}
		return nil
	})
	tcheck(t, err, "create rows")

	err = db.Read(ctx, func(tx *Tx) error {
		pt, _ := tx.schema.TypeByID(stPerson)
		idx, _ := pt.Composites.Get("NameAge")
		nameF, _ := pt.Fields.Get("Name")
		ageF, _ := pt.Fields.Get("Age")
		c, err := tx.QueryComposite(idx, []*SimpleSubField{nameF.Simple, ageF.Simple})
		tcheck(t, err, "QueryComposite")
		defer c.Close()
		var got []row
		for c.Next() {
			e, err := c.Entry()
			tcheck(t, err, "Entry")
			got = append(got, row{e.Values[0].(string), e.Values[1].(int32)})
		}
		want := []row{{"alice", 25}, {"alice", 30}, {"bob", 40}}
		if len(got) != len(want) {
			t.Fatalf("QueryComposite returned %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("QueryComposite order = %v, want %v", got, want)
			}
		}
		return nil
	})
	tcheck(t, err, "read composite")
}
