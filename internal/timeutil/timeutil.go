// Package timeutil handles the project's time conventions: everything
// persisted is a UTC epoch second, everything rendered goes through the
// configured IANA zone.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xonecas/seele/internal/errs"
)

// Now returns the current UTC epoch second.
func Now() int64 {
	return time.Now().Unix()
}

// Format renders a stored epoch second in the given zone as
// "2006-01-02 15:04:05".
func Format(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04:05")
}

// FormatRange renders a covered time span; identical endpoints collapse
// to a single stamp.
func FormatRange(first, last int64, loc *time.Location) string {
	a, b := Format(first, loc), Format(last, loc)
	if a == b {
		return a
	}
	return a + " ~ " + b
}

// FormatRelative renders the distance from ts to now ("3 hours ago").
func FormatRelative(ts, now int64) string {
	diff := now - ts
	switch {
	case diff < 60:
		return "just now"
	case diff < 3600:
		return plural(diff/60, "minute")
	case diff < 86400:
		return plural(diff/3600, "hour")
	case diff < 604800:
		return plural(diff/86400, "day")
	case diff < 2592000:
		return plural(diff/604800, "week")
	case diff < 31536000:
		return plural(diff/2592000, "month")
	default:
		return plural(diff/31536000, "year")
	}
}

func plural(n int64, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}

var relativeRe = regexp.MustCompile(`^in\s+(\d+)\s*(s|sec|second|seconds|m|min|minute|minutes|h|hour|hours|d|day|days|w|week|weeks)$`)

// unitSeconds maps the first letter of a duration unit to seconds.
var unitSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': 604800,
}

// ParseOnceTrigger turns a one-shot trigger expression into an epoch
// second strictly after now. Accepted forms: raw epoch seconds,
// ISO-8601 datetime (zone optional, defaults to loc), "in N <unit>",
// "tomorrow", "next week". Times at or before now are rejected: a task
// scheduled into the past would fire immediately on the next poll.
func ParseOnceTrigger(expr string, now int64, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errs.Newf(errs.BadArgument, "empty trigger time")
	}

	if ts, err := strconv.ParseInt(expr, 10, 64); err == nil {
		if ts <= now {
			return 0, errs.Newf(errs.BadArgument, "trigger time %d is in the past", ts)
		}
		if ts > now+86400*365*10 {
			return 0, errs.Newf(errs.BadArgument, "timestamp %d out of range", ts)
		}
		return ts, nil
	}

	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, expr, loc); err == nil {
			if t.Unix() <= now {
				return 0, errs.Newf(errs.BadArgument, "trigger time %q is in the past", expr)
			}
			return t.Unix(), nil
		}
	}

	lower := strings.ToLower(expr)
	if m := relativeRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.ParseInt(m[1], 10, 64)
		return now + n*unitSeconds[m[2][0]], nil
	}
	switch lower {
	case "tomorrow":
		return now + 86400, nil
	case "next week":
		return now + 604800, nil
	}

	return 0, errs.Newf(errs.BadArgument, "cannot parse trigger time %q", expr)
}

// ParseInterval turns a compact interval expression ("30s", "5m", "1h",
// "1d", "1w", or bare seconds) into a positive number of seconds.
func ParseInterval(expr string) (int64, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return 0, errs.Newf(errs.BadArgument, "empty interval")
	}

	mult := int64(1)
	digits := expr
	if sec, ok := unitSeconds[expr[len(expr)-1]]; ok && len(expr) > 1 {
		mult = sec
		digits = expr[:len(expr)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, errs.Newf(errs.BadArgument, "invalid interval %q", expr)
	}
	return n * mult, nil
}

// FormatInterval renders seconds in the most compact grammar unit that
// divides it evenly.
func FormatInterval(seconds int64) string {
	switch {
	case seconds%604800 == 0:
		return fmt.Sprintf("%dw", seconds/604800)
	case seconds%86400 == 0:
		return fmt.Sprintf("%dd", seconds/86400)
	case seconds%3600 == 0:
		return fmt.Sprintf("%dh", seconds/3600)
	case seconds%60 == 0:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ParseDate parses "YYYY-MM-DD" or "YYYY-MM-DD HH:MM:SS" in loc. When the
// time part is absent and endOfDay is set, the result points at 23:59:59.
func ParseDate(expr string, loc *time.Location, endOfDay bool) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}
	expr = strings.TrimSpace(expr)
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", expr, loc); err == nil {
		return t.Unix(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", expr, loc)
	if err != nil {
		return 0, errs.Newf(errs.BadArgument, "invalid date %q, use YYYY-MM-DD or YYYY-MM-DD HH:MM:SS", expr)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t.Unix(), nil
}
