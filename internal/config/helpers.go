package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var offsetPattern = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// EnsureDirectories creates the directories of file-backed components
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Store.Backend == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Events.EmbeddedNATS {
		dirs = append(dirs, c.Events.EmbeddedNATSDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

// Location returns the configured calendar location
func (c *CalendarConfig) Location() *time.Location {
	loc, err := ParseTimezone(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Weekday returns the configured first day of the week
func (c *CalendarConfig) Weekday() time.Weekday {
	d, err := ParseWeekday(c.FirstDayOfWeek)
	if err != nil {
		return time.Monday
	}
	return d
}

// ParseTimezone accepts an IANA name ("Asia/Tokyo", "UTC") or an offset ("+09:00").
// An empty string is UTC.
func ParseTimezone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}

	// Try parsing as IANA timezone name first
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}

	matches := offsetPattern.FindStringSubmatch(tz)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid timezone: %s", tz)
	}

	sign := 1
	if matches[1] == "-" {
		sign = -1
	}
	hours, _ := strconv.Atoi(matches[2])
	minutes, _ := strconv.Atoi(matches[3])
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("invalid timezone offset: %s", tz)
	}

	return time.FixedZone(tz, sign*(hours*3600+minutes*60)), nil
}

// ParseWeekday parses an English weekday name. An empty string is Monday.
func ParseWeekday(s string) (time.Weekday, error) {
	if s == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("invalid first_day_of_week: %s", s)
}
