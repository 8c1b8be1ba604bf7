// Package search indexes sheets for the browse UI, with a store-scan
// fallback when Meilisearch is unavailable.
package search

import "context"

// Record is the flattened, index-friendly view of a sheet.
type Record struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	OwnerName   string `json:"ownerName"`
	Name        string `json:"name"`
	Job         string `json:"job"`
	State       string `json:"state"`
	Description string `json:"description"`
}

type Query struct {
	Text        string
	FilterState string
	Limit       int
}

// Scanner lists every sheet record straight from the document store. Used
// as the fallback when Meilisearch is down.
type Scanner interface {
	ScanFiches(ctx context.Context) ([]Record, error)
}
