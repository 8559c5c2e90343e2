package scheduler

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// specParser accepts six-field expressions with a leading seconds field and
// the @-descriptors. NormalizeCron maps every accepted input onto it.
var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NormalizeCron accepts 5-field (minute first), 6-field (seconds first) and
// 7-field (seconds first, trailing year) expressions and returns the
// equivalent 6-field form. Quartz "?" is read as "*". The year field is
// ignored. Anything unparseable yields DefaultCron together with an error.
func NormalizeCron(expr string) (string, error) {
	expr = strings.TrimSpace(strings.ReplaceAll(expr, "?", "*"))

	if strings.HasPrefix(expr, "@") {
		if _, err := specParser.Parse(expr); err != nil {
			return DefaultCron, fmt.Errorf("cron %q: %w", expr, err)
		}
		return expr, nil
	}

	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		fields = append([]string{"0"}, fields...)
	case 6:
	case 7:
		fields = fields[:6]
	default:
		return DefaultCron, fmt.Errorf("cron %q: expected 5, 6 or 7 fields, got %d", expr, len(fields))
	}

	out := strings.Join(fields, " ")
	if _, err := specParser.Parse(out); err != nil {
		return DefaultCron, fmt.Errorf("cron %q: %w", expr, err)
	}
	return out, nil
}

var weekdays = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
	"SUN": "Sunday", "MON": "Monday", "TUE": "Tuesday", "WED": "Wednesday",
	"THU": "Thursday", "FRI": "Friday", "SAT": "Saturday",
}

// Describe renders a cron expression as short English text, for example
// "every Monday at 10:00". Expressions it cannot read are returned as is.
func Describe(expr string) string {
	fields := strings.Fields(strings.ReplaceAll(expr, "?", "*"))
	switch len(fields) {
	case 5:
	case 6:
		fields = fields[1:]
	case 7:
		fields = fields[1:6]
	default:
		return expr
	}
	minute, hour, dom, dow := fields[0], fields[1], fields[2], fields[4]

	var parts []string
	if dow != "*" {
		if name, ok := weekdays[strings.ToUpper(dow)]; ok {
			parts = append(parts, "every "+name)
		} else {
			parts = append(parts, "on weekdays "+dow)
		}
	}

	h, hourFixed := number(hour)
	m, minuteFixed := number(minute)

	switch {
	case dom != "*":
		if n, ok := strings.CutPrefix(dom, "*/"); ok {
			parts = append(parts, "every "+n+" days")
		} else {
			parts = append(parts, "on day "+dom)
		}
	case dow == "*" && hourFixed:
		parts = append(parts, "every day")
	}

	switch {
	case hourFixed && minuteFixed:
		parts = append(parts, fmt.Sprintf("at %02d:%02d", h, m))
	default:
		if n, ok := strings.CutPrefix(hour, "*/"); ok {
			parts = append(parts, "every "+n+" hours")
		} else if hour != "*" {
			parts = append(parts, "at hour "+hour)
		}
		if n, ok := strings.CutPrefix(minute, "*/"); ok {
			parts = append(parts, "every "+n+" minutes")
		} else if minute != "*" {
			parts = append(parts, "at minute "+minute)
		}
	}

	if len(parts) == 0 {
		return expr
	}
	return strings.Join(parts, " ")
}

func number(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// cronLogger routes robfig/cron's internal logging to slog. Its chatty
// info lines go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func newCronLogger(logger *slog.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
