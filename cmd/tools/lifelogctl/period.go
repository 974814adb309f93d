package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifelog/lifelog/internal/app"
	"github.com/lifelog/lifelog/internal/calendar"
	"github.com/lifelog/lifelog/internal/config"
)

func newPeriodCmd(opts *options) *cobra.Command {
	var (
		period   string
		timezone string
		firstDay string
	)

	cmd := &cobra.Command{
		Use:   "period <timestamp>",
		Short: "Print the bucket of a period containing a timestamp",
		Long: `Print the first second, last second and next bucket start of the period
containing a timestamp. The timestamp is unix seconds or RFC3339. Timezone
and first day of the week default to the configured calendar.

Examples:
  lifelogctl period 1709719200 --period week
  lifelogctl period 2024-03-06T10:00:00+09:00 --period month --timezone Asia/Tokyo
  lifelogctl period now --period 900s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(args[0], time.Now)
			if err != nil {
				return err
			}
			p, err := calendar.ParsePeriod(period)
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timezone") {
				if _, err := config.ParseTimezone(timezone); err != nil {
					return err
				}
				cfg.Calendar.Timezone = timezone
			}
			if cmd.Flags().Changed("first-day") {
				if _, err := config.ParseWeekday(firstDay); err != nil {
					return err
				}
				cfg.Calendar.FirstDayOfWeek = firstDay
			}
			cal := app.NewCalendar(cfg.Calendar)

			start, end := cal.Bucket(ts, p)
			next := cal.NextPeriodStart(ts, p)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "period: %s\n", p)
			fmt.Fprintf(out, "start:  %s\n", formatTimestamp(start, cal.Location()))
			fmt.Fprintf(out, "end:    %s\n", formatTimestamp(end, cal.Location()))
			fmt.Fprintf(out, "next:   %s\n", formatTimestamp(next, cal.Location()))
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "day", "Period keyword (minute ... year) or length in seconds")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone or offset such as +09:00")
	cmd.Flags().StringVar(&firstDay, "first-day", "", "First day of the week")
	return cmd
}

// parseTimestamp accepts unix seconds, RFC3339 or "now"
func parseTimestamp(s string, now func() time.Time) (int64, error) {
	if s == "now" {
		return now().Unix(), nil
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: use unix seconds or RFC3339", s)
	}
	return t.Unix(), nil
}

func formatTimestamp(ts int64, loc *time.Location) string {
	return fmt.Sprintf("%d (%s)", ts, time.Unix(ts, 0).In(loc).Format(time.RFC3339))
}
