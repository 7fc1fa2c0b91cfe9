// Package pagination walks the pages of a single chunk.
//
// A chunk is a search query bounded to a sub-range of the ordering key.
// The walker requests pages in cursor order until the source reports no
// next cursor, the visitor asks to stop, or the context is cancelled.
// Cancellation is checked before every page request, so a cancelled crawl
// never issues another request for the chunk while the page already in
// hand is still handed to the visitor in full.
//
// Example usage:
//
//	pages, err := pagination.Walk(ctx, fetcher, chunk, func(p model.Page) (bool, error) {
//		for _, repo := range p.Items {
//			// ...
//		}
//		return true, nil
//	})
package pagination
