package objdb

import "testing"

func TestSnapshotCommitRollbackAlwaysFail(t *testing.T) {
	db, ctx := openTestDB(t)
	sn, err := NewSnapshot(ctx, db)
	tcheck(t, err, "NewSnapshot")

	err = sn.Commit()
	tneed(t, err, ErrReadOnly, "Snapshot.Commit")

	err = sn.Rollback()
	tneed(t, err, ErrReadOnly, "Snapshot.Rollback")
}

func TestSnapshotCopyFromAndHandle(t *testing.T) {
	db, ctx := openTestDB(t)
	var id ObjId
	err := db.Write(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.Create(stPerson)
		if err != nil {
			return err
		}
		if err := tx.WriteSimple(id, fName, "carol"); err != nil {
			return err
		}
		pt, _ := tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		return tx.SetAdd(id, f, "vip")
	})
	tcheck(t, err, "setup main object")

	err = db.Read(ctx, func(tx *Tx) error {
		sn, err := NewSnapshot(ctx, db)
		tcheck(t, err, "NewSnapshot")

		h, err := sn.CopyFrom(tx, id)
		tcheck(t, err, "CopyFrom")

		v, err := h.ReadSimple(fName)
		tcheck(t, err, "Handle.ReadSimple")
		if v != "carol" {
			t.Fatalf("copied Name = %q, want carol", v)
		}

		pt, _ := sn.Tx.schema.TypeByID(stPerson)
		f, _ := pt.Fields.Get("Tags")
		members, err := sn.Tx.SetMembers(id, f)
		tcheck(t, err, "SetMembers on snapshot")
		if len(members) != 1 || members[0] != "vip" {
			t.Fatalf("copied Tags = %v, want [vip]", members)
		}

		if err := h.WriteSimple(fName, "carol2"); err != nil {
			t.Fatalf("Handle.WriteSimple: %v", err)
		}
		v2, err := h.ReadSimple(fName)
		tcheck(t, err, "re-read after write")
		if v2 != "carol2" {
			t.Fatalf("snapshot write did not take effect, got %q", v2)
		}

		h2 := sn.Object(id)
		if h2 != h {
			t.Fatalf("Snapshot.Object did not return the cached Handle")
		}
		return nil
	})
	tcheck(t, err, "snapshot read")

	// The main object must be unaffected by the snapshot's mutation.
	err = db.Read(ctx, func(tx *Tx) error {
		v, err := tx.ReadSimple(id, fName)
		tcheck(t, err, "read main object Name")
		if v != "carol" {
			t.Fatalf("main object Name changed to %q, snapshot writes must not leak", v)
		}
		return nil
	})
	tcheck(t, err, "verify main object untouched")
}

func TestSnapshotDoesNotFireListeners(t *testing.T) {
	db, ctx := openTestDB(t)
	fired := false
	db.Listen(funcListener{onChange: func(ObjId, uint64, any, any) { fired = true }})

	err := db.Read(ctx, func(tx *Tx) error {
		sn, err := NewSnapshot(ctx, db)
		tcheck(t, err, "NewSnapshot")
		id, err := sn.Tx.Create(stPerson)
		tcheck(t, err, "create in snapshot")
		return sn.Tx.WriteSimple(id, fName, "dora")
	})
	tcheck(t, err, "snapshot mutation")

	if fired {
		t.Fatalf("listener fired for a snapshot-transaction mutation, expected suppression")
	}
}

// funcListener adapts a plain func to the Listener interface for tests that
// only care about one callback.
type funcListener struct {
	onCreate       func(ObjId)
	onDelete       func(ObjId)
	onChange       func(id ObjId, fieldStorageID uint64, old, new any)
	onSchemaChange func(id ObjId, from, to uint32, oldValues map[string]any)
}

func (f funcListener) OnCreate(id ObjId) {
	if f.onCreate != nil {
		f.onCreate(id)
	}
}
func (f funcListener) OnDelete(id ObjId) {
	if f.onDelete != nil {
		f.onDelete(id)
	}
}
func (f funcListener) OnChange(id ObjId, fieldStorageID uint64, old, new any) {
	if f.onChange != nil {
		f.onChange(id, fieldStorageID, old, new)
	}
}
func (f funcListener) OnSchemaChange(id ObjId, from, to uint32, oldValues map[string]any) {
	if f.onSchemaChange != nil {
		f.onSchemaChange(id, from, to, oldValues)
	}
}
