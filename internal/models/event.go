package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType identifies what a committed mutation did
type ChangeType string

const (
	ChangeSeriesCreated    ChangeType = "series.created"
	ChangeSeriesUpdated    ChangeType = "series.updated"
	ChangeSeriesDeleted    ChangeType = "series.deleted"
	ChangeDatapointCreated ChangeType = "datapoint.created"
	ChangeDatapointUpdated ChangeType = "datapoint.updated"
	ChangeDatapointDeleted ChangeType = "datapoint.deleted"
	ChangeRecomputed       ChangeType = "series.recomputed"
)

// ChangeEvent is published after a mutation commits, once per affected series
type ChangeEvent struct {
	ID          string     `json:"id"`
	Type        ChangeType `json:"type"`
	SeriesID    int64      `json:"series_id"`
	DatapointID int64      `json:"datapoint_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewChangeEvent creates an event with a fresh id
func NewChangeEvent(t ChangeType, seriesID, datapointID int64) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.New().String(),
		Type:        t,
		SeriesID:    seriesID,
		DatapointID: datapointID,
		Timestamp:   time.Now().UTC(),
	}
}
