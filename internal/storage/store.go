package storage

import (
	"errors"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/pkg/request"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ListOptions controls filtering and pagination when fetching captures.
type ListOptions struct {
	Search string
	Limit  int
	Offset int
}

// ResultFilter narrows the result log.
type ResultFilter struct {
	RunID      string
	FailedOnly bool
	Limit      int
}

// Store is the process-lifetime log of captures and replay results.
type Store interface {
	RecordCapture(*request.CapturedRequest) error
	ListCaptures(ListOptions) ([]*request.CapturedRequest, int, error)
	GetCapture(id string) (*request.CapturedRequest, error)

	RecordResult(*request.ReplayResult) error
	ListResults(ResultFilter) ([]request.ReplayResult, error)
	ClearResults() error

	Close() error
}

// New instantiates the in-memory store.
func New(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("storage config is nil")
	}
	return newSQLiteStore(cfg, log)
}
