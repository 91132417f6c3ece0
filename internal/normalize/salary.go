package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/masahif/jobforge/internal/jobs"
)

// DefaultCurrency applies when a salary string names no currency.
const DefaultCurrency = "CAD"

var (
	currencyPatterns = []struct {
		code string
		re   *regexp.Regexp
	}{
		{"USD", regexp.MustCompile(`(?i)\bUSD\b|US\$`)},
		{"CAD", regexp.MustCompile(`(?i)\bCAD\b|C\$|CA\$`)},
		{"EUR", regexp.MustCompile(`(?i)\bEUR\b|€`)},
		{"GBP", regexp.MustCompile(`(?i)\bGBP\b|£`)},
	}
	hourlyPattern  = regexp.MustCompile(`(?i)\b(hour|hourly|hr|hrs)\b|/\s*h\b`)
	monthlyPattern = regexp.MustCompile(`(?i)\b(month|monthly|mo)\b`)
	thousandsSep   = regexp.MustCompile(`(\d)[,\s](\d{3})\b`)
	numberPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([kK])?\b`)
)

// ParseSalary extracts a range, currency and pay period from free text such
// as "$75,000 - $85,000 annually" or "$25/hour". Text without digits yields
// a Salary with no bounds.
func ParseSalary(raw, defaultCurrency string) jobs.Salary {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return jobs.Salary{}
	}
	if defaultCurrency == "" {
		defaultCurrency = DefaultCurrency
	}

	text := raw
	for thousandsSep.MatchString(text) {
		text = thousandsSep.ReplaceAllString(text, "$1$2")
	}
	text = strings.NewReplacer("$", " ", "€", " ", "£", " ").Replace(text)

	var values []float64
	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return jobs.Salary{}
	}
	sort.Float64s(values)
	minV, maxV := values[0], values[len(values)-1]

	return jobs.Salary{
		Min:      &minV,
		Max:      &maxV,
		Currency: detectCurrency(raw, defaultCurrency),
		Period:   detectPeriod(raw),
	}
}

// SalaryFromBounds builds a Salary from already-numeric bounds.
func SalaryFromBounds(minV, maxV *float64, currency string, period jobs.SalaryPeriod) jobs.Salary {
	if minV == nil && maxV == nil {
		return jobs.Salary{}
	}
	if minV == nil {
		minV = maxV
	}
	if maxV == nil {
		maxV = minV
	}
	if *minV > *maxV {
		minV, maxV = maxV, minV
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	if period == "" {
		period = jobs.PeriodAnnually
	}
	return jobs.Salary{Min: minV, Max: maxV, Currency: strings.ToUpper(currency), Period: period}
}

func detectCurrency(raw, def string) string {
	for _, c := range currencyPatterns {
		if c.re.MatchString(raw) {
			return c.code
		}
	}
	return def
}

func detectPeriod(raw string) jobs.SalaryPeriod {
	switch {
	case hourlyPattern.MatchString(raw):
		return jobs.PeriodHourly
	case monthlyPattern.MatchString(raw):
		return jobs.PeriodMonthly
	default:
		return jobs.PeriodAnnually
	}
}

// ParsePeriod maps a free-form period label to a SalaryPeriod.
func ParsePeriod(label string) jobs.SalaryPeriod {
	if strings.TrimSpace(label) == "" {
		return ""
	}
	return detectPeriod(label)
}
