package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/product-scout/pkg/models"
)

// ProductHistory records which product links each site has exposed over time
type ProductHistory interface {
	// RecordProducts upserts links for domain, stamping them as seen at seenAt.
	// Returns how many links had never been seen before.
	RecordProducts(domain string, links []string, seenAt time.Time) (newCount int, err error)

	// GetProduct returns the history entry of one link, if present
	GetProduct(domain, link string) (*models.ProductEntry, bool, error)

	// CountProducts returns how many distinct links are stored for domain
	CountProducts(domain string) (int, error)

	// CountNewSince returns how many links of domain were first seen at or after since
	CountNewSince(domain string, since time.Time) (int, error)

	// ListProducts returns every stored link of domain in key order
	ListProducts(domain string) ([]string, error)

	// Write records links as seen now, so the store can sit in a sink chain
	Write(ctx context.Context, siteDomain string, links []string) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// TotalProducts returns the number of product keys across all domains
	TotalProducts() int

	// WriteProductLog writes the stored links of domain, one per line, to filePath
	WriteProductLog(domain, filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// ProductStore combines history access and administration
type ProductStore interface {
	ProductHistory
	StoreAdmin
}
