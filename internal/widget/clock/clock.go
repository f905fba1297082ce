// Package clock formats the local time for the dashboard header.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/alexjbarnes/ambient-dash/internal/models"
)

const (
	timeLayout = "03:04 PM"
	dateLayout = "Monday, January 2"
)

// Clock reads the wall clock in a fixed time zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces time.Now.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New loads the named IANA time zone. An empty name uses the host's
// local zone.
func New(timezone string, opts ...Option) (*Clock, error) {
	loc := time.Local

	if timezone != "" {
		var err error

		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("loading time zone %q: %w", timezone, err)
		}
	}

	c := &Clock{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Fetch returns the current time as a 12-hour, zero padded string.
func (c *Clock) Fetch(context.Context) (*models.Clock, error) {
	now := c.now().In(c.loc)

	return &models.Clock{
		Time:     now.Format(timeLayout),
		Date:     now.Format(dateLayout),
		Timezone: c.loc.String(),
	}, nil
}
