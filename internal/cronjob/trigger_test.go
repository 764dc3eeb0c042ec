package cronjob

import (
	"errors"
	"testing"
)

func TestParseCronMapsFieldsPositionally(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		want CronFields
	}{
		{"* * * * *", CronFields{"*", "*", "*", "*", "*"}},
		{"*/5 * * * *", CronFields{"*/5", "*", "*", "*", "*"}},
		{"0 0 * * *", CronFields{"0", "0", "*", "*", "*"}},
		{"1 2 3 4 5", CronFields{Minute: "1", Hour: "2", DayOfMonth: "3", Month: "4", DayOfWeek: "5"}},
		{"15 9-17 */2 jan-jun mon-fri", CronFields{"15", "9-17", "*/2", "jan-jun", "mon-fri"}},
		// No semantic validation: out-of-range tokens pass through.
		{"99 99 99 99 99", CronFields{"99", "99", "99", "99", "99"}},
	}
	for _, tt := range tests {
		got, err := ParseCron(tt.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q) error: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Fatalf("ParseCron(%q) = %+v, want %+v", tt.expr, got, tt.want)
		}
		if got.Spec() != tt.expr {
			t.Fatalf("Spec() = %q, want %q", got.Spec(), tt.expr)
		}
	}
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{
		"",
		"*",
		"* * * *",
		"* * * * * *",
		"0 0 1 1 * 2024",
		"*  * * *",   // empty token from a double space
		"* * * * * ", // trailing space
		" * * * *",
	} {
		_, err := ParseCron(expr)
		if !errors.Is(err, ErrInvalidCronFormat) {
			t.Fatalf("ParseCron(%q) err = %v, want ErrInvalidCronFormat", expr, err)
		}
	}
}
