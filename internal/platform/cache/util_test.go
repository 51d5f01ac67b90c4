package cache

import (
	"testing"
	"time"
)

func TestTimeUntilNextHour(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		name     string
		now      time.Time
		hour     int
		loc      *time.Location
		expected time.Duration
	}{
		{
			name:     "before the hour today",
			now:      time.Date(2024, 1, 5, 22, 30, 0, 0, time.UTC),
			hour:     23,
			loc:      time.UTC,
			expected: 30 * time.Minute,
		},
		{
			name:     "midnight rolls to next day",
			now:      time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC),
			hour:     0,
			loc:      time.UTC,
			expected: 6 * time.Hour,
		},
		{
			name:     "exactly on the hour waits a full day",
			now:      time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			hour:     0,
			loc:      nil,
			expected: 24 * time.Hour,
		},
		{
			name:     "other location",
			now:      time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), // 09:00 JST
			hour:     8,
			loc:      tokyo,
			expected: 23 * time.Hour,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := TimeUntilNextHour(tt.now, tt.hour, tt.loc)
			if got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
