package cronjob

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCronFormat is returned when an expression does not split into
// exactly five non-empty fields.
var ErrInvalidCronFormat = errors.New("cron expression must have 5 fields")

// CronFields are the raw tokens of a 5-field crontab expression.
// Tokens are not validated here; the facility parses them when the job is registered.
type CronFields struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// ParseCron splits expr on single spaces and maps the tokens positionally.
func ParseCron(expr string) (CronFields, error) {
	parts := strings.Split(expr, " ")
	if len(parts) != 5 {
		return CronFields{}, fmt.Errorf("%w: got %d in %q", ErrInvalidCronFormat, len(parts), expr)
	}
	for i, p := range parts {
		if p == "" {
			return CronFields{}, fmt.Errorf("%w: field %d is empty in %q", ErrInvalidCronFormat, i+1, expr)
		}
	}
	return CronFields{
		Minute:     parts[0],
		Hour:       parts[1],
		DayOfMonth: parts[2],
		Month:      parts[3],
		DayOfWeek:  parts[4],
	}, nil
}

// Spec renders the fields back into the spec string the facility consumes.
func (f CronFields) Spec() string {
	return strings.Join([]string{f.Minute, f.Hour, f.DayOfMonth, f.Month, f.DayOfWeek}, " ")
}
