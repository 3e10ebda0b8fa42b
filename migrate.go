package objdb

import "fmt"

// migrateIfNeeded brings id's on-disk metadata version up to the
// transaction's bound schema version, lazily and one object at a time,
// rather than as a bulk pass over every object of a type. A no-op when the
// object is already current, which is the overwhelmingly common case once
// a database has settled onto its latest schema.
func (tx *Tx) migrateIfNeeded(id ObjId) error {
	cur, err := tx.GetVersion(id)
	if err != nil {
		if err == ErrDeletedObject {
			return nil
		}
		return err
	}
	if cur == tx.schema.Version {
		return nil
	}
	if cur > tx.schema.Version {
		return fmt.Errorf("%w: object %s is at schema version %d, transaction is bound to %d", ErrSchemaMismatch, id, cur, tx.schema.Version)
	}
	oldSchema, err := tx.loadSchemaVersion(cur)
	if err != nil {
		return err
	}
	oldType, ok := oldSchema.TypeByID(id.StorageID())
	if !ok {
		return fmt.Errorf("%w: type storage-id %d absent from schema version %d", ErrStore, id.StorageID(), cur)
	}
	newType, ok := tx.schema.TypeByID(id.StorageID())
	if !ok {
		return fmt.Errorf("%w: storage-id %d", ErrUnknownType, id.StorageID())
	}

	oldValues := map[string]any{}

	// Fields present in oldType but dropped from newType: their content and
	// index keys are removed outright.
	for p := oldType.Fields.Oldest(); p != nil; p = p.Next() {
		of := p.Value
		if _, ok := newType.FieldByID(of.StorageID); ok {
			continue
		}
		v, err := tx.captureFieldValue(id, of)
		if err != nil {
			return err
		}
		oldValues[of.Name] = v
		if err := tx.purgeField(id, oldType, of); err != nil {
			return err
		}
		if of.Simple != nil {
			if err := tx.ktx.Delete(simpleFieldKey(id, of.StorageID)); err != nil {
				return err
			}
		} else if of.Complex != nil {
			lo, hi := complexFieldRange(id, of.StorageID)
			if err := tx.ktx.DeleteRange(lo, hi); err != nil {
				return err
			}
		}
	}

	// Fields present in newType but absent from oldType: a top-level Simple
	// field gets its zero value written explicitly (and indexed, if the new
	// field is indexed), so index queries see it consistently with
	// ReadSimple's already-zero default for a missing content key. A
	// newly-added complex (list/set/map) field defaults to empty, which
	// needs no content or index keys at all.
	for p := newType.Fields.Oldest(); p != nil; p = p.Next() {
		nf := p.Value
		if _, ok := oldType.FieldByID(nf.StorageID); ok {
			continue
		}
		if nf.Simple == nil {
			continue
		}
		if err := tx.writeSimpleRaw(id, nf.Simple, nil, nf.Simple.zero()); err != nil {
			return err
		}
	}

	// Fields present in both: re-encode in place on a compatible numeric
	// promotion, add/remove the field's index entry when only Indexed
	// toggled, and scrub now-disallowed references when a RefTypes
	// allow-list shrank. A compatible schema change may grow or shrink the
	// allowed reference types; only the types it removes need scrubbing.
	for p := newType.Fields.Oldest(); p != nil; p = p.Next() {
		nf := p.Value
		of, ok := oldType.FieldByID(nf.StorageID)
		if !ok {
			continue
		}
		if nf.Simple != nil && of.Simple != nil {
			if err := tx.migrateSimpleField(id, of.Simple, nf.Simple); err != nil {
				return err
			}
		}
		if nf.Complex != nil && of.Complex != nil {
			if err := tx.migrateComplexFieldIndexing(id, of, nf); err != nil {
				return err
			}
		}
		if nf.Complex != nil && of.Complex != nil && nf.Complex.Elem.Kind == KindReference {
			removed := removedTypes(of.Complex.Elem.RefTypes, nf.Complex.Elem.RefTypes)
			if len(removed) > 0 {
				if err := unreferenceRemovedObjectTypes(tx, id, nf, removed); err != nil {
					return err
				}
			}
		}
		if nf.Simple != nil && of.Simple != nil && nf.Simple.Kind == KindReference {
			removed := removedTypes(of.Simple.RefTypes, nf.Simple.RefTypes)
			if len(removed) > 0 {
				raw, err := tx.ktx.Get(simpleFieldKey(id, nf.StorageID))
				if err != nil {
					return err
				}
				if raw != nil {
					v, _, err := decodeValue(raw, nf.Simple.Kind, nf.Simple.UserType)
					if err != nil {
						return err
					}
					if ref, ok := v.(ObjId); ok && removed[ref.StorageID()] {
						// Write directly through tx.ktx rather than
						// tx.WriteSimple: the object's metadata key still
						// names the old version at this point, and
						// WriteSimple's lookupField would call back into
						// migrateIfNeeded and recurse.
						if err := tx.writeSimpleRaw(id, nf.Simple, raw, ObjId{}); err != nil {
							return err
						}
					}
				}
			}
		}
	}

	if err := tx.ktx.Put(metadataKey(id), putUint32(nil, tx.schema.Version)); err != nil {
		return err
	}
	tx.stats.Content.Put++
	(&dispatcher{tx: tx}).fireSchemaChange(id, cur, tx.schema.Version, oldValues)
	return nil
}

// captureFieldValue reads of's current value for id, for inclusion in the
// oldValuesByName map a schema-change notification carries.
func (tx *Tx) captureFieldValue(id ObjId, of *Field) (any, error) {
	if of.Simple != nil {
		raw, err := tx.ktx.Get(simpleFieldKey(id, of.StorageID))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return of.Simple.zero(), nil
		}
		v, _, err := decodeValue(raw, of.Simple.Kind, of.Simple.UserType)
		return v, err
	}
	if of.Complex != nil {
		els, err := iterComplex(tx.ktx, id, of)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(els))
		for i, e := range els {
			out[i] = e.Value
		}
		return out, nil
	}
	return nil, nil
}

// removedTypes returns the storage-ids present in oldSet but absent from
// newSet. An empty set means "any type allowed": an empty oldSet yields no
// removals, and so does an empty newSet, since it allows every type.
func removedTypes(oldSet, newSet []uint64) map[uint64]bool {
	if len(newSet) == 0 {
		return map[uint64]bool{}
	}
	keep := map[uint64]bool{}
	for _, t := range newSet {
		keep[t] = true
	}
	removed := map[uint64]bool{}
	for _, t := range oldSet {
		if !keep[t] {
			removed[t] = true
		}
	}
	return removed
}

// migrateSimpleField brings a single top-level Simple field up to date for
// one object: re-encodes its current value if of/nf's kind differ by a
// compatible promotion, and adds or removes its index entry if only
// Indexed toggled. A no-op when neither changed.
func (tx *Tx) migrateSimpleField(id ObjId, of, nf *SimpleSubField) error {
	if of.Kind == nf.Kind && of.Indexed == nf.Indexed {
		return nil
	}
	raw, err := tx.ktx.Get(simpleFieldKey(id, nf.StorageID))
	if err != nil {
		return err
	}
	tx.stats.Content.Get++
	oldValue := of.zero()
	if raw != nil {
		oldValue, _, err = decodeValue(raw, of.Kind, of.UserType)
		if err != nil {
			return err
		}
	}
	newValue := oldValue
	if of.Kind != nf.Kind {
		newValue, err = promoteValue(of.Kind, nf.Kind, oldValue)
		if err != nil {
			return err
		}
	}
	return tx.writeSimpleRaw(id, nf, raw, newValue)
}

// writeSimpleRaw re-encodes value under nf and writes it directly through
// tx.ktx, updating nf's index entry (removing oldRaw's entry first, if of
// was indexed and oldRaw is non-nil). Used by migration, which must never
// go through WriteSimple: the object's metadata key still names the old
// schema version mid-migration, and WriteSimple's lookupField would call
// back into migrateIfNeeded and recurse.
func (tx *Tx) writeSimpleRaw(id ObjId, nf *SimpleSubField, oldRaw []byte, value any) error {
	newRaw, err := encodeValue(nil, nf.Kind, nf.UserType, value)
	if err != nil {
		return err
	}
	if err := tx.ktx.Put(simpleFieldKey(id, nf.StorageID), newRaw); err != nil {
		return err
	}
	tx.stats.Content.Put++
	if oldRaw != nil {
		if err := indexDelete(tx.ktx, simpleIndexKey(nf.StorageID, oldRaw, id)); err != nil {
			return err
		}
		tx.stats.Index.Delete++
	}
	if nf.Indexed {
		if err := indexPut(tx.ktx, simpleIndexKey(nf.StorageID, newRaw, id)); err != nil {
			return err
		}
		tx.stats.Index.Put++
	}
	return nil
}

// migrateComplexFieldIndexing adds or removes index entries for a complex
// field's elements when the Indexed flag of its Elem or Key sub-field
// toggled between of and nf. The element/key kind itself never changes
// here (Complex fields don't get scalarTypeCompatible's promotion
// latitude), so decoding with either of's or nf's sub-field works; nf is
// used since it is what subsequent reads of the object will use.
func (tx *Tx) migrateComplexFieldIndexing(id ObjId, of, nf *Field) error {
	elemChanged := of.Complex.Elem.Indexed != nf.Complex.Elem.Indexed
	var keyChanged bool
	if of.Complex.Key != nil && nf.Complex.Key != nil {
		keyChanged = of.Complex.Key.Indexed != nf.Complex.Key.Indexed
	}
	if !elemChanged && !keyChanged {
		return nil
	}
	els, err := iterComplex(tx.ktx, id, nf)
	if err != nil {
		return err
	}
	for _, el := range els {
		if err := indexComplexElement(tx.ktx, id, of, el, false); err != nil {
			return err
		}
		if err := indexComplexElement(tx.ktx, id, nf, el, true); err != nil {
			return err
		}
	}
	return nil
}

// loadSchemaVersion fetches and deserializes one catalog entry.
func (tx *Tx) loadSchemaVersion(version uint32) (*Schema, error) {
	v, err := tx.ktx.Get(catalogKey(version))
	if err != nil {
		return nil, err
	}
	tx.stats.Catalog.Get++
	if v == nil {
		return nil, fmt.Errorf("%w: no catalog entry for schema version %d", ErrStore, version)
	}
	s, err := DeserializeSchema(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}
