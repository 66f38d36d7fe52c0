// Package pagination provides sequential offset paging over a candidate store.
//
// Outreach campaigns read every matching record before dispatching anything.
// Pages are requested in increasing offset order until a page comes back
// shorter than the page size. The query must carry a stable sort key
// (typically the creation timestamp) so that no record is skipped or repeated
// across page boundaries.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(source, pagination.DefaultConfig())
//	cands, err := fetcher.FetchAll(ctx, pagination.Query{
//		Where:   []candidate.Predicate{candidate.FieldNotNull{Field: "email"}},
//		OrderBy: []candidate.Order{{Field: "created_at"}},
//	})
//
// The fetcher:
//   - Requests one page at a time, never in parallel
//   - Stops on the first short page
//   - Fails fast: any page error discards everything fetched so far
//   - Drops a key seen on an earlier page (logged, never dispatched twice)
package pagination
