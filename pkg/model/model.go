// Package model defines the types shared by the harvester components:
// repositories, ordering-key ranges, chunks, pages and rate-limit quota.
package model

import "time"

// Repository is a single harvested entity.
type Repository struct {
	// ID is the node id assigned by GitHub. It never changes once assigned.
	ID string `json:"id"`

	// Name is the owner/name pair.
	Name string `json:"name"`

	// Stars is the stargazer count at the time the repository was seen.
	Stars int `json:"stargazer_count"`

	// SeenAt is when the repository was last fetched.
	SeenAt time.Time `json:"crawled_at"`
}

// Cursor is an opaque continuation token scoped to one chunk.
// The empty cursor means "start of chunk".
type Cursor string

// Page is one page of search results for a chunk.
type Page struct {
	Items []Repository

	// Next is empty when the chunk has no more results.
	Next Cursor

	// Total is the result count the API reports for the chunk's query.
	Total int

	// Skipped counts malformed entries dropped from this page.
	Skipped int
}

// Quota is the remote rate-limit state reported with a response.
type Quota struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
