package objdb

// Counter tallies per-operation-kind counts, generalized to count Get/Put
// operations for any resource kind the transaction touches.
type Counter struct {
	Get    int
	Put    int
	Delete int
	Cursor int
}

// Stats accumulates operation counts for a single transaction. DB.Stats
// returns the running total across all completed transactions.
type Stats struct {
	Content Counter // object metadata + simple/complex field content keys.
	Index   Counter // simple + composite index keys.
	Catalog Counter // schema catalog keys.
}

func (s *Stats) add(o Stats) {
	s.Content.Get += o.Content.Get
	s.Content.Put += o.Content.Put
	s.Content.Delete += o.Content.Delete
	s.Content.Cursor += o.Content.Cursor
	s.Index.Get += o.Index.Get
	s.Index.Put += o.Index.Put
	s.Index.Delete += o.Index.Delete
	s.Index.Cursor += o.Index.Cursor
	s.Catalog.Get += o.Catalog.Get
	s.Catalog.Put += o.Catalog.Put
	s.Catalog.Delete += o.Catalog.Delete
	s.Catalog.Cursor += o.Catalog.Cursor
}
