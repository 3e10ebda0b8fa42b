package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mjl-/objdb"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeCSV writes one row per record, columns in the type's declared field
// order, each value rendered with fmt's default verb (so an ObjId field,
// already turned into its hex string by jsonValue, prints as that string).
func writeCSV(w io.Writer, t *objdb.ObjectType, records []map[string]any) error {
	cw := csv.NewWriter(w)
	header := []string{"id"}
	for p := t.Fields.Oldest(); p != nil; p = p.Next() {
		header = append(header, p.Value.Name)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = csvCell(rec[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = fmt.Sprint(e)
		}
		return fmt.Sprint(parts)
	case map[string]any:
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
