// Package products exports finished data products (calibration tables,
// FITS images, manifests) to an object store, keyed by run ID.
package products

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a product does not exist in the store.
var ErrNotFound = errors.New("products: not found")

// Store is the export surface used by the exportproducts task.
type Store interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	// URL returns a time-limited download link for operator inspection.
	URL(ctx context.Context, runID, path string) (string, error)
}
