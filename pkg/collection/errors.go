package collection

import "errors"

// Sentinels exported so the root package can map them onto its broader
// taxonomy via errors.Is without this package importing back into root
// (which would cycle).
var (
	ErrClosed     = errors.New("collection: closed")
	ErrNotFound   = errors.New("collection: not found")
	ErrEmptyQuery = errors.New("collection: empty query vector")
)
