package changesource

import (
	"testing"
	"time"
)

func TestValidCronExpr(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 3 * * *",
		"*/15 * * * 1-5",
		"30 2 1 * *",
	}
	for _, expr := range valid {
		if !ValidCronExpr(expr) {
			t.Errorf("ValidCronExpr(%q) = false, want true", expr)
		}
	}

	invalid := []string{
		"",
		"* * * *",
		"* * * * * *",
		"99 * * * *",
		"not a cron",
	}
	for _, expr := range invalid {
		if ValidCronExpr(expr) {
			t.Errorf("ValidCronExpr(%q) = true, want false", expr)
		}
	}
}

func TestNextCronDuration(t *testing.T) {
	// Every minute: the next fire is at most a minute away.
	d := nextCronDuration("* * * * *")
	if d <= 0 || d > time.Minute {
		t.Fatalf("duration = %v", d)
	}

	if d := nextCronDuration("bogus"); d != 0 {
		t.Fatalf("duration for bad expr = %v, want 0", d)
	}
}
