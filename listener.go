package objdb

// Listener receives notifications for mutations observed by a transaction.
// Every method is optional in spirit: implementations that only care about
// one kind of event can embed NopListener and override just that method.
type Listener interface {
	OnCreate(id ObjId)
	OnDelete(id ObjId)
	OnChange(id ObjId, fieldStorageID uint64, oldValue, newValue any)
	OnSchemaChange(id ObjId, oldVersion, newVersion uint32, oldValuesByName map[string]any)
}

// NopListener implements Listener with no-op methods so callers can embed
// it and override only the events they care about.
type NopListener struct{}

func (NopListener) OnCreate(ObjId)                                       {}
func (NopListener) OnDelete(ObjId)                                       {}
func (NopListener) OnChange(ObjId, uint64, any, any)                     {}
func (NopListener) OnSchemaChange(ObjId, uint32, uint32, map[string]any) {}

// registeredListener pairs a Listener with an optional object-path filter:
// an ordered sequence of reference-field storage-ids the change must
// propagate through before the listener fires. A listener can be
// registered per transaction or per database.
//
// A nil/empty path means "fire directly for the object the mutation
// targets", which is the only case this module resolves eagerly; path
// filters with one or more hops require walking live reference fields at
// fire time and are evaluated by fireAlongPath below.
type registeredListener struct {
	listener Listener
	path     []uint64
}

// dispatcher fires listener calls as soon as each mutation's key updates
// (content + index) have been applied, so a listener never observes a
// partially updated index. Calls are not queued until commit.
type dispatcher struct {
	tx *Tx
}

func (d *dispatcher) fireCreate(id ObjId) {
	if d.tx.isSnapshot {
		return
	}
	for _, rl := range d.tx.allListeners() {
		if len(rl.path) == 0 {
			rl.listener.OnCreate(id)
		}
	}
}

func (d *dispatcher) fireDelete(id ObjId) {
	if d.tx.isSnapshot {
		return
	}
	for _, rl := range d.tx.allListeners() {
		if len(rl.path) == 0 {
			rl.listener.OnDelete(id)
		}
	}
}

func (d *dispatcher) fireChange(id ObjId, fieldStorageID uint64, oldValue, newValue any) {
	if d.tx.isSnapshot {
		return
	}
	for _, rl := range d.tx.allListeners() {
		if len(rl.path) != 0 {
			d.fireAlongPath(rl, id, fieldStorageID, oldValue, newValue)
			continue
		}
		rl.listener.OnChange(id, fieldStorageID, oldValue, newValue)
	}
}

func (d *dispatcher) fireSchemaChange(id ObjId, oldVersion, newVersion uint32, oldValues map[string]any) {
	if d.tx.isSnapshot {
		return
	}
	for _, rl := range d.tx.allListeners() {
		if len(rl.path) == 0 {
			rl.listener.OnSchemaChange(id, oldVersion, newVersion, oldValues)
		}
	}
}

// fireAlongPath walks backwards from id along rl.path's reference-field
// hops to find every object that reaches id through that exact path, and
// fires OnChange on each. Applies to ordinary transactions only; snapshot
// transactions do not fire path-filtered listeners.
func (d *dispatcher) fireAlongPath(rl registeredListener, id ObjId, fieldStorageID uint64, oldValue, newValue any) {
	roots := []ObjId{id}
	for _, hopFieldID := range rl.path {
		var next []ObjId
		for _, r := range roots {
			lo, hi := simpleIndexRange(hopFieldID)
			it, err := d.tx.ktx.GetRange(lo, hi, false)
			if err != nil {
				continue
			}
			for it.Next() {
				p := it.Pair()
				// simple index key: prefix + encoded value + holder ObjId;
				// for a reference field the encoded value is the
				// referenced 8-byte ObjId, so compare it to r and step to
				// the trailing holder.
				start := len(lo)
				if len(p.Key) >= start+16 {
					var referent ObjId
					copy(referent[:], p.Key[start:start+8])
					if referent == r {
						var holder ObjId
						copy(holder[:], p.Key[len(p.Key)-8:])
						next = append(next, holder)
					}
				}
			}
			it.Close()
		}
		roots = next
		if len(roots) == 0 {
			return
		}
	}
	for _, r := range roots {
		rl.listener.OnChange(r, fieldStorageID, oldValue, newValue)
	}
}

// allListeners merges database-wide and transaction-scoped listeners.
func (tx *Tx) allListeners() []registeredListener {
	out := make([]registeredListener, 0, len(tx.db.listeners)+len(tx.listeners))
	out = append(out, tx.db.listeners...)
	out = append(out, tx.listeners...)
	return out
}

// Listen registers a listener scoped to this transaction only.
func (tx *Tx) Listen(l Listener, path ...uint64) {
	tx.listeners = append(tx.listeners, registeredListener{listener: l, path: path})
}
