package portal

import (
	"fmt"
	"math"
	"time"
)

const (
	minutesPerDay   = 1440
	minutesPerMonth = 43200
)

// RelativeTime renders how long ago value happened in Brazilian Portuguese,
// as in "há 3 dias". It accepts time.Time and *time.Time; nil and zero
// times render as an empty string.
func RelativeTime(value any) string {
	var t time.Time
	switch v := value.(type) {
	case time.Time:
		t = v
	case *time.Time:
		if v == nil {
			return ""
		}
		t = *v
	default:
		return ""
	}
	if t.IsZero() {
		return ""
	}
	return RelativeTimeFrom(t, time.Now())
}

// RelativeTimeFrom renders the distance between t and now. Past times get
// the "há" prefix and future times the "em" prefix.
func RelativeTimeFrom(t, now time.Time) string {
	if t.After(now) {
		return "em " + distance(now, t)
	}
	return "há " + distance(t, now)
}

// distance follows the usual rounding bands: minutes up to 45, hours up to
// a day, days up to a month, then months and years.
func distance(from, to time.Time) string {
	minutes := int(math.Round(to.Sub(from).Minutes()))

	switch {
	case minutes < 1:
		return "menos de um minuto"
	case minutes < 45:
		return plural(minutes, "minuto", "minutos")
	case minutes < 90:
		return "cerca de 1 hora"
	case minutes < minutesPerDay:
		return "cerca de " + plural(roundDiv(minutes, 60), "hora", "horas")
	case minutes < 2520:
		return "1 dia"
	case minutes < minutesPerMonth:
		return plural(roundDiv(minutes, minutesPerDay), "dia", "dias")
	case minutes < 2*minutesPerMonth:
		return "cerca de " + plural(roundDiv(minutes, minutesPerMonth), "mês", "meses")
	}

	months := monthsBetween(from, to)
	if months < 12 {
		return plural(roundDiv(minutes, minutesPerMonth), "mês", "meses")
	}

	years := months / 12
	switch rest := months % 12; {
	case rest < 3:
		return "cerca de " + plural(years, "ano", "anos")
	case rest < 9:
		return "mais de " + plural(years, "ano", "anos")
	default:
		return "quase " + plural(years+1, "ano", "anos")
	}
}

// monthsBetween counts the whole calendar months from from to to
func monthsBetween(from, to time.Time) int {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if months > 0 && to.AddDate(0, -months, 0).Before(from) {
		months--
	}
	return months
}

func roundDiv(n, d int) int {
	return int(math.Round(float64(n) / float64(d)))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
