package normalize

import (
	"strings"

	"github.com/masahif/jobforge/internal/jobs"
)

type region struct {
	name    string
	country string
}

const (
	countryCanada = "Canada"
	countryUS     = "United States"
)

// regions maps province/state abbreviations to full names. The Canadian and
// US code sets do not collide.
var regions = map[string]region{
	"AB": {"Alberta", countryCanada},
	"BC": {"British Columbia", countryCanada},
	"MB": {"Manitoba", countryCanada},
	"NB": {"New Brunswick", countryCanada},
	"NL": {"Newfoundland and Labrador", countryCanada},
	"NS": {"Nova Scotia", countryCanada},
	"NT": {"Northwest Territories", countryCanada},
	"NU": {"Nunavut", countryCanada},
	"ON": {"Ontario", countryCanada},
	"PE": {"Prince Edward Island", countryCanada},
	"QC": {"Quebec", countryCanada},
	"SK": {"Saskatchewan", countryCanada},
	"YT": {"Yukon", countryCanada},

	"AL": {"Alabama", countryUS}, "AK": {"Alaska", countryUS}, "AZ": {"Arizona", countryUS},
	"AR": {"Arkansas", countryUS}, "CA": {"California", countryUS}, "CO": {"Colorado", countryUS},
	"CT": {"Connecticut", countryUS}, "DE": {"Delaware", countryUS}, "DC": {"District of Columbia", countryUS},
	"FL": {"Florida", countryUS}, "GA": {"Georgia", countryUS}, "HI": {"Hawaii", countryUS},
	"ID": {"Idaho", countryUS}, "IL": {"Illinois", countryUS}, "IN": {"Indiana", countryUS},
	"IA": {"Iowa", countryUS}, "KS": {"Kansas", countryUS}, "KY": {"Kentucky", countryUS},
	"LA": {"Louisiana", countryUS}, "ME": {"Maine", countryUS}, "MD": {"Maryland", countryUS},
	"MA": {"Massachusetts", countryUS}, "MI": {"Michigan", countryUS}, "MN": {"Minnesota", countryUS},
	"MS": {"Mississippi", countryUS}, "MO": {"Missouri", countryUS}, "MT": {"Montana", countryUS},
	"NE": {"Nebraska", countryUS}, "NV": {"Nevada", countryUS}, "NH": {"New Hampshire", countryUS},
	"NJ": {"New Jersey", countryUS}, "NM": {"New Mexico", countryUS}, "NY": {"New York", countryUS},
	"NC": {"North Carolina", countryUS}, "ND": {"North Dakota", countryUS}, "OH": {"Ohio", countryUS},
	"OK": {"Oklahoma", countryUS}, "OR": {"Oregon", countryUS}, "PA": {"Pennsylvania", countryUS},
	"RI": {"Rhode Island", countryUS}, "SC": {"South Carolina", countryUS}, "SD": {"South Dakota", countryUS},
	"TN": {"Tennessee", countryUS}, "TX": {"Texas", countryUS}, "UT": {"Utah", countryUS},
	"VT": {"Vermont", countryUS}, "VA": {"Virginia", countryUS}, "WA": {"Washington", countryUS},
	"WV": {"West Virginia", countryUS}, "WI": {"Wisconsin", countryUS}, "WY": {"Wyoming", countryUS},
}

// regionsByName is the reverse index, keyed by lowercased full name.
var regionsByName = func() map[string]region {
	m := make(map[string]region, len(regions))
	for _, r := range regions {
		m[strings.ToLower(r.name)] = r
	}
	return m
}()

var countryAliases = map[string]string{
	"canada":                   countryCanada,
	"can":                      countryCanada,
	"usa":                      countryUS,
	"us":                       countryUS,
	"u.s.":                     countryUS,
	"u.s.a.":                   countryUS,
	"united states":            countryUS,
	"united states of america": countryUS,
}

// ParseLocation splits "City, PR[, Country]" into its parts. A single
// segment is taken as the city; an unknown second segment is kept verbatim.
func ParseLocation(raw string) jobs.Location {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return jobs.Location{}
	}

	loc := jobs.Location{City: parts[0]}
	if len(parts) > 1 {
		if r, ok := lookupRegion(parts[1]); ok {
			loc.Province = r.name
			loc.Country = r.country
		} else {
			loc.Province = parts[1]
		}
	}
	if len(parts) > 2 {
		loc.Country = normalizeCountry(parts[2])
	}
	return loc
}

// lookupRegion matches an abbreviation or full name, also when followed by a
// postal code ("AB T5J 0N3").
func lookupRegion(segment string) (region, bool) {
	if r, ok := regions[strings.ToUpper(segment)]; ok {
		return r, true
	}
	if r, ok := regionsByName[strings.ToLower(segment)]; ok {
		return r, true
	}
	if fields := strings.Fields(segment); len(fields) > 1 {
		if r, ok := regions[strings.ToUpper(fields[0])]; ok {
			return r, true
		}
	}
	return region{}, false
}

func normalizeCountry(s string) string {
	if c, ok := countryAliases[strings.ToLower(s)]; ok {
		return c
	}
	return s
}
