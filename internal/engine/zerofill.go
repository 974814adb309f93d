package engine

import (
	"context"

	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/models"
)

// DefaultMaxZerofillBuckets bounds the points one Zerofill call inserts
const DefaultMaxZerofillBuckets = 10000

// Zerofill inserts a zero-value single-entry datapoint into every bucket of
// the series period between its last datapoint and the bucket containing now
// (both exclusive). A series without datapoints gets one at the start of the
// current bucket. Ineligible series are skipped. It returns the number of
// points inserted, at most maxBuckets (0 selects the default).
func (e *Engine) Zerofill(ctx context.Context, seriesID, now int64, maxBuckets int) (int, error) {
	if maxBuckets <= 0 {
		maxBuckets = DefaultMaxZerofillBuckets
	}

	inserted := 0
	err := e.mutate(ctx, "zerofill", seriesID, func(m *mutation) error {
		inserted = 0
		s, err := m.getSeries(seriesID)
		if err != nil {
			return err
		}
		if !s.ZerofillEligible() {
			return nil
		}
		p := calendar.Period(s.Period)
		current := e.cal.PeriodStart(now, p)

		last, err := m.tx.QueryRecent(seriesID, 1, models.GranularityRaw)
		if err != nil {
			return err
		}

		var first int64
		if len(last) == 0 {
			if err := m.insert(zeroPoint(seriesID, current)); err != nil {
				return err
			}
			inserted, first = 1, current
		} else {
			for b := e.cal.NextPeriodStart(last[0].TsEnd, p); b < current && inserted < maxBuckets; b = e.cal.NextPeriodStart(b, p) {
				if err := m.insert(zeroPoint(seriesID, b)); err != nil {
					return err
				}
				if inserted == 0 {
					first = b
				}
				inserted++
			}
		}

		if inserted == 0 {
			return nil
		}
		return m.refresh(s, first)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func zeroPoint(seriesID, ts int64) *models.Datapoint {
	return &models.Datapoint{SeriesID: seriesID, TsStart: ts, TsEnd: ts, Value: 0, Entries: 1}
}
