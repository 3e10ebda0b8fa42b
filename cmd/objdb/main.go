// Command objdb inspects and manipulates an objdb boltkv file directly,
// without requiring the caller to link in the application's own schema: it
// discovers the current schema from the file's own catalog, the same way
// the library itself verifies compatibility on Open.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mjl-/objdb"
	"github.com/mjl-/objdb/kvstore/boltkv"
)

var fs = afero.NewOsFs()

func main() {
	root := &cobra.Command{
		Use:   "objdb",
		Short: "Inspect and manage an objdb database file",
		Long: `objdb opens a boltkv-backed database file and lets you list its
object types, dump a schema version, read one object, walk a simple or
composite index, force a lazily-migrated object up to date, and export a
type's objects as CSV or JSON.`,
	}
	root.PersistentFlags().String("db", "", "path to the database file (required)")
	viper.BindPFlag("db", root.PersistentFlags().Lookup("db"))
	viper.SetEnvPrefix("OBJDB")
	viper.AutomaticEnv()

	root.AddCommand(typesCmd(), schemaCmd(), getCmd(), migrateCmd(), indexCmd(), exportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func dbPath() (string, error) {
	path := viper.GetString("db")
	if path == "" {
		return "", fmt.Errorf("--db (or OBJDB_DB) is required")
	}
	return path, nil
}

// openStore opens the boltkv file and resolves its latest recorded schema,
// without needing the caller to already know the schema's shape.
func openStore(ctx context.Context, path string) (*boltkv.Store, *objdb.Schema, error) {
	store, err := boltkv.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	schema, err := objdb.LatestSchema(ctx, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, schema, nil
}

func typesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List object types in the database's current schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, schema, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()
			for p := schema.Types.Oldest(); p != nil; p = p.Next() {
				t := p.Value
				fmt.Printf("%s (storage-id %d)\n", t.Name, t.StorageID)
				for fp := t.Fields.Oldest(); fp != nil; fp = fp.Next() {
					f := fp.Value
					fmt.Printf("  %s\t%s\n", f.Name, fieldShape(f))
				}
			}
			return nil
		},
	}
}

func fieldShape(f *objdb.Field) string {
	switch {
	case f.Counter:
		return "counter"
	case f.Complex != nil:
		return fmt.Sprintf("%s<%s>", f.Complex.Collection, f.Complex.Elem.Kind)
	case f.Simple != nil:
		return f.Simple.Kind.String()
	default:
		return "?"
	}
}

func schemaCmd() *cobra.Command {
	var version uint32
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print one recorded schema version as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := boltkv.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()
			var schema *objdb.Schema
			if version == 0 {
				schema, err = objdb.LatestSchema(ctx, store)
			} else {
				versions, verr := objdb.ReadCatalog(ctx, store)
				if verr != nil {
					return verr
				}
				s, ok := versions[version]
				if !ok {
					return fmt.Errorf("no catalog entry for schema version %d", version)
				}
				schema, err = s, nil
			}
			if err != nil {
				return err
			}
			return printJSON(schemaSummary(schema))
		},
	}
	cmd.Flags().Uint32Var(&version, "version", 0, "schema version to print (default: latest)")
	return cmd
}

// schemaSummary converts a Schema into plain maps/slices for JSON output;
// Schema's own types carry unexported bookkeeping fields that don't round
// trip through encoding/json on their own.
func schemaSummary(s *objdb.Schema) map[string]any {
	types := []map[string]any{}
	for p := s.Types.Oldest(); p != nil; p = p.Next() {
		t := p.Value
		fields := []map[string]any{}
		for fp := t.Fields.Oldest(); fp != nil; fp = fp.Next() {
			f := fp.Value
			fields = append(fields, map[string]any{
				"name":       f.Name,
				"storage_id": f.StorageID,
				"shape":      fieldShape(f),
			})
		}
		types = append(types, map[string]any{
			"name":       t.Name,
			"storage_id": t.StorageID,
			"fields":     fields,
		})
	}
	return map[string]any{"version": s.Version, "types": types}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <objid>",
		Short: "Print one object's fields as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			id, err := objdb.ParseObjId(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, schema, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()
			db, err := objdb.Open(ctx, store, schema)
			if err != nil {
				return err
			}
			var out map[string]any
			err = db.Read(ctx, func(tx *objdb.Tx) error {
				t, ok := schema.TypeByID(id.StorageID())
				if !ok {
					return fmt.Errorf("object %s: unknown type storage-id %d", id, id.StorageID())
				}
				m, err := readObject(tx, t, id)
				if err != nil {
					return err
				}
				out = m
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func readObject(tx *objdb.Tx, t *objdb.ObjectType, id objdb.ObjId) (map[string]any, error) {
	out := map[string]any{"id": id.String()}
	for p := t.Fields.Oldest(); p != nil; p = p.Next() {
		f := p.Value
		v, err := readField(tx, id, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func readField(tx *objdb.Tx, id objdb.ObjId, f *objdb.Field) (any, error) {
	if f.Simple != nil {
		v, err := tx.ReadSimple(id, f.StorageID)
		if err != nil {
			return nil, err
		}
		return jsonValue(v), nil
	}
	if f.Complex == nil {
		return nil, nil
	}
	switch f.Complex.Collection {
	case objdb.CollectionList:
		vs, err := tx.ListGet(id, f)
		return jsonSlice(vs), err
	case objdb.CollectionSet:
		vs, err := tx.SetMembers(id, f)
		return jsonSlice(vs), err
	case objdb.CollectionMap:
		keys, values, err := tx.MapGet(id, f)
		if err != nil {
			return nil, err
		}
		m := map[string]any{}
		for i, k := range keys {
			m[fmt.Sprint(jsonValue(k))] = jsonValue(values[i])
		}
		return m, nil
	}
	return nil, nil
}

func jsonSlice(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = jsonValue(v)
	}
	return out
}

// jsonValue converts a decoded field value into something encoding/json can
// render sensibly: an ObjId becomes its hex string rather than a [8]byte
// array of numbers.
func jsonValue(v any) any {
	if id, ok := v.(objdb.ObjId); ok {
		return id.String()
	}
	return v
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <objid>",
		Short: "Force an object to migrate to the database's current schema version",
		Long: `Migration is normally lazy: an object upgrades the first time a
transaction bound to a newer schema touches one of its fields. migrate forces
that touch now, by reading (and rewriting) every field of the object.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			id, err := objdb.ParseObjId(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, schema, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()
			db, err := objdb.Open(ctx, store, schema)
			if err != nil {
				return err
			}
			before, err := dbVersionOf(ctx, db, id)
			if err != nil {
				return err
			}
			err = db.Write(ctx, func(tx *objdb.Tx) error {
				t, ok := schema.TypeByID(id.StorageID())
				if !ok {
					return fmt.Errorf("object %s: unknown type storage-id %d", id, id.StorageID())
				}
				_, err := readObject(tx, t, id)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s: schema version %d -> %d\n", id, before, schema.Version)
			return nil
		},
	}
}

func dbVersionOf(ctx context.Context, db *objdb.DB, id objdb.ObjId) (v uint32, err error) {
	err = db.Read(ctx, func(tx *objdb.Tx) error {
		v, err = tx.GetVersion(id)
		return err
	})
	return
}

func indexCmd() *cobra.Command {
	var composite string
	cmd := &cobra.Command{
		Use:   "index <type> [field]",
		Short: "Dump the entries of a simple field index, or a composite index",
		Long: `index <type> <field> dumps field's simple index as value -> objid
pairs. index <type> --composite=<name> dumps a composite index's tuples
instead.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, schema, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()
			db, err := objdb.Open(ctx, store, schema)
			if err != nil {
				return err
			}
			t, ok := schema.TypeByName(args[0])
			if !ok {
				return fmt.Errorf("no such type %q", args[0])
			}
			return db.Read(ctx, func(tx *objdb.Tx) error {
				if composite != "" {
					return dumpComposite(tx, t, composite)
				}
				if len(args) != 2 {
					return fmt.Errorf("field name required unless --composite is given")
				}
				return dumpSimpleIndex(tx, t, args[1])
			})
		},
	}
	cmd.Flags().StringVar(&composite, "composite", "", "dump this composite index instead of a simple field index")
	return cmd
}

func dumpSimpleIndex(tx *objdb.Tx, t *objdb.ObjectType, fieldName string) error {
	f, ok := t.Fields.Get(fieldName)
	if !ok || f.Simple == nil {
		return fmt.Errorf("%q is not a simple field of %s", fieldName, t.Name)
	}
	c, err := tx.QueryIndex(f.Simple)
	if err != nil {
		return err
	}
	defer c.Close()
	for c.Next() {
		e, err := c.Entry()
		if err != nil {
			return err
		}
		fmt.Printf("%v\t%s\n", jsonValue(e.Value), e.ID)
	}
	return nil
}

func dumpComposite(tx *objdb.Tx, t *objdb.ObjectType, name string) error {
	idx, ok := t.Composites.Get(name)
	if !ok {
		return fmt.Errorf("no composite index %q on %s", name, t.Name)
	}
	fields := make([]*objdb.SimpleSubField, 0, len(idx.Fields))
	for _, fn := range idx.Fields {
		f, ok := t.Fields.Get(fn)
		if !ok || f.Simple == nil {
			return fmt.Errorf("composite index %q: field %q is not a simple field", name, fn)
		}
		fields = append(fields, f.Simple)
	}
	c, err := tx.QueryComposite(idx, fields)
	if err != nil {
		return err
	}
	defer c.Close()
	for c.Next() {
		e, err := c.Entry()
		if err != nil {
			return err
		}
		vals := make([]any, len(e.Values))
		for i, v := range e.Values {
			vals[i] = jsonValue(v)
		}
		fmt.Printf("%v\t%s\n", vals, e.ID)
	}
	return nil
}

func exportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <type>",
		Short: "Export every object of a type as CSV or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := dbPath()
			if err != nil {
				return err
			}
			if format != "csv" && format != "json" {
				return fmt.Errorf("--format must be csv or json, got %q", format)
			}
			ctx := cmd.Context()
			store, schema, err := openStore(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()
			db, err := objdb.Open(ctx, store, schema)
			if err != nil {
				return err
			}
			t, ok := schema.TypeByName(args[0])
			if !ok {
				return fmt.Errorf("no such type %q", args[0])
			}
			var w afero.File
			if out == "" {
				w = osStdout{}
			} else {
				w, err = fs.Create(out)
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer w.Close()
			}
			var records []map[string]any
			err = db.Read(ctx, func(tx *objdb.Tx) error {
				return tx.ScanType(t.StorageID, func(id objdb.ObjId) error {
					m, err := readObject(tx, t, id)
					if err != nil {
						return err
					}
					records = append(records, m)
					return nil
				})
			})
			if err != nil {
				return err
			}
			if format == "json" {
				return writeJSON(w, records)
			}
			return writeCSV(w, t, records)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format: csv or json")
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")
	return cmd
}

// osStdout adapts os.Stdout to the small subset of afero.File export uses,
// so export can write to a real file (via afero.Fs, kept swappable for
// tests) or to the terminal through the same code path.
type osStdout struct{ afero.File }

func (osStdout) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (osStdout) Close() error                { return nil }

func printJSON(v any) error {
	return writeJSON(osStdout{}, v)
}
