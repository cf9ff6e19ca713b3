package markethours

import (
	"testing"
	"time"
)

func et(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, ET)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid-session Tuesday", et(2026, time.March, 3, 12, 0), true},
		{"open boundary", et(2026, time.March, 3, 9, 30), true},
		{"before open", et(2026, time.March, 3, 9, 29), false},
		{"close boundary exclusive", et(2026, time.March, 3, 16, 0), false},
		{"Saturday", et(2026, time.March, 7, 12, 0), false},
		{"Sunday", et(2026, time.March, 8, 12, 0), false},
		{"Christmas", et(2026, time.December, 25, 12, 0), false},
		{"Thanksgiving", et(2026, time.November, 26, 12, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMarketOpen(tc.t); got != tc.want {
				t.Errorf("IsMarketOpen(%v) = %v, want %v", tc.t, got, tc.want)
			}
		})
	}
}

func TestNextOpen_SkipsWeekend(t *testing.T) {
	// Friday after close → Monday 9:30
	fri := et(2026, time.March, 6, 17, 0)
	next := NextOpen(fri)
	if next.Weekday() != time.Monday {
		t.Fatalf("next open on %v, want Monday", next.Weekday())
	}
	if next.Hour() != 9 || next.Minute() != 30 {
		t.Errorf("next open at %02d:%02d, want 09:30", next.Hour(), next.Minute())
	}
}

func TestNextOpen_BeforeOpenSameDay(t *testing.T) {
	early := et(2026, time.March, 3, 8, 0)
	next := NextOpen(early)
	if next.Day() != 3 {
		t.Errorf("next open on day %d, want same day 3", next.Day())
	}
}

func TestTimeUntilClose_AfterClose(t *testing.T) {
	if d := TimeUntilClose(et(2026, time.March, 3, 17, 0)); d != 0 {
		t.Errorf("TimeUntilClose after hours = %v, want 0", d)
	}
}
