// Package pagination tracks paginated list sections for the console store.
//
// A section is addressed by entity type and pagination key and holds the
// selected page, the page size, request params and, per fetched page, the
// ordered ids of that page. Entity data itself lives in the entity store.
//
// Example usage:
//
//	ctrl := pagination.NewController(pagination.DefaultConfig(), fetcher, registry, entities, tracker)
//	ctrl.AddParams(schema.Application, key, map[string]string{"q": "name:web"})
//	call, err := ctrl.SetPage(ctx, schema.Application, key, 1)
//
// The controller:
//   - Serves already-fetched pages whose request state is valid
//   - Coalesces concurrent fetches of the same page via the request tracker
//   - Clears all pages and returns to page 1 when params or page size change
//   - Discards the id list of responses that no longer match the section
//   - Prunes deleted ids from every section of the entity type
//
// FetchAllPages loads every page of a section with a bounded worker pool.
package pagination
