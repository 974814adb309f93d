// Package store defines the transactional repository the engine runs on.
//
// Reads go through View and see the last committed state. Writes go through
// Update; the callback's changes commit atomically when it returns nil and are
// discarded otherwise. Query methods only return closed datapoints, open range
// markers are reachable through GetDatapoint.
package store

import (
	"context"
	"math"

	"github.com/lifelog/lifelog/internal/models"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open time bounds for QueryRange
const (
	MinTime int64 = math.MinInt64
	MaxTime int64 = math.MaxInt64
)

// Reader is the read side of a transaction
type Reader interface {
	GetSeries(id int64) (*models.Series, error)
	GetSeriesByName(name string) (*models.Series, error)
	ListSeries() ([]*models.Series, error)
	GetDatapoint(id int64) (*models.Datapoint, error)

	// QueryRecent returns up to count rows newest first (count <= 0 means all).
	// For granularities other than raw one row per bucket is returned.
	QueryRecent(seriesID int64, count int, g models.Granularity) ([]*models.Datapoint, error)
	// QueryBefore is QueryRecent restricted to rows with TsStart < before.
	QueryBefore(seriesID, before int64, count int, g models.Granularity) ([]*models.Datapoint, error)
	// QueryRange returns rows with TsStart in [from, to] oldest first. For
	// granularities other than raw the newest row of each bucket is returned.
	QueryRange(seriesID, from, to int64, g models.Granularity) ([]*models.Datapoint, error)

	SourcesOf(resultID int64) ([]int64, error)
	DependentsOf(sourceID int64) ([]int64, error)
	ListEdges() ([]models.Edge, error)
}

// Tx is a read-write transaction
type Tx interface {
	Reader

	// PutSeries inserts a series when ID is 0 (assigning the ID) and updates it otherwise
	PutSeries(s *models.Series) error
	// DeleteSeries removes a series with its datapoints and edges
	DeleteSeries(id int64) error

	// InsertDatapoint stores d and assigns its ID
	InsertDatapoint(d *models.Datapoint) error
	UpdateDatapoint(d *models.Datapoint) error
	DeleteDatapoint(id int64) error

	// ReplaceEdges sets the complete source list of a result series
	ReplaceEdges(resultID int64, sourceIDs []int64) error
}

// Store is a transactional repository
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// DuplicateName is returned by PutSeries when the name is taken
func DuplicateName(name string) error {
	return models.NewErrorWithDetails(models.CodeInvalidArgument, "series name already exists",
		map[string]interface{}{"name": name})
}

// SeriesNotFound is returned when a series id is unknown
func SeriesNotFound(id int64) error {
	return models.NotFoundf("series %d not found", id)
}

// DatapointNotFound is returned when a datapoint id is unknown
func DatapointNotFound(id int64) error {
	return models.NotFoundf("datapoint %d not found", id)
}
