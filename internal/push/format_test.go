package push

import (
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/df-notifier/internal/dfapi"
)

func TestThousands(t *testing.T) {
	for in, want := range map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	} {
		if got := thousands(in); got != want {
			t.Errorf("thousands(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := duration(3*3600 + 25*60); got != "3h 25m" {
		t.Fatalf("got %q", got)
	}
	if got := duration(59); got != "0m" {
		t.Fatalf("got %q", got)
	}
}

func TestFormatDaily_NoMatches(t *testing.T) {
	rec := &dfapi.DailyRecord{
		Date: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		Sol:  &dfapi.DailySol{TotalMatch: 5},
	}
	got := FormatDaily("Ranger", rec)
	if !strings.HasSuffix(got, noMatches) || !strings.Contains(got, "2026-10-18") {
		t.Fatalf("unexpected text %q", got)
	}
	if strings.Contains(got, "Operations") {
		t.Fatal("section without a recent date must be hidden")
	}
}
