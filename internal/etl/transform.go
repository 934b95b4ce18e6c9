package etl

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMissingID is returned for records without a usable integer id
var ErrMissingID = errors.New("record has no integer id")

// Review is one row of the reviews table. Optional numeric columns are nil
// when the source omits them or carries a value that cannot be parsed.
type Review struct {
	ID             int64
	DateReview     string
	DayReview      *int64
	MonthReview    string
	MonthReviewNum *int64
	YearReview     *int64
	Verified       string
	Name           string
	MonthFly       string
	MonthFlyNum    *float64
	YearFly        *float64
	MonthYearFly   string
	Country        string
	Aircraft       string
	Aircraft1      string
	Aircraft2      string
	Type           string
	SeatType       string
	Route          string
	Origin         string
	Destination    string
	Transit        string
	SeatComfort    *float64
	CabinServ      *float64
	Food           *float64
	GroundService  *float64
	Wifi           *float64
	MoneyValue     *int64
	Score          *float64
	Experience     string
	Recommended    string
	Review         string
}

// InsertID is the stable deduplication key of the row
func (r *Review) InsertID() string {
	return strconv.FormatInt(r.ID, 10)
}

// Values returns the row keyed by column name. Nil pointers become nil values.
func (r *Review) Values() map[string]any {
	return map[string]any{
		"id":               r.ID,
		"date_review":      r.DateReview,
		"day_review":       intValue(r.DayReview),
		"month_review":     r.MonthReview,
		"month_review_num": intValue(r.MonthReviewNum),
		"year_review":      intValue(r.YearReview),
		"verified":         r.Verified,
		"name":             r.Name,
		"month_fly":        r.MonthFly,
		"month_fly_num":    floatValue(r.MonthFlyNum),
		"year_fly":         floatValue(r.YearFly),
		"month_year_fly":   r.MonthYearFly,
		"country":          r.Country,
		"aircraft":         r.Aircraft,
		"aircraft_1":       r.Aircraft1,
		"aircraft_2":       r.Aircraft2,
		"type":             r.Type,
		"seat_type":        r.SeatType,
		"route":            r.Route,
		"origin":           r.Origin,
		"destination":      r.Destination,
		"transit":          r.Transit,
		"seat_comfort":     floatValue(r.SeatComfort),
		"cabin_serv":       floatValue(r.CabinServ),
		"food":             floatValue(r.Food),
		"ground_service":   floatValue(r.GroundService),
		"wifi":             floatValue(r.Wifi),
		"money_value":      intValue(r.MoneyValue),
		"score":            floatValue(r.Score),
		"experience":       r.Experience,
		"recommended":      r.Recommended,
		"review":           r.Review,
	}
}

func intValue(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var (
	ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	routeVia      = regexp.MustCompile(`(?i)\s+via\s+`)
	routeTo       = regexp.MustCompile(`(?i)\s+to\s+`)
	aircraftSep   = regexp.MustCompile(`\s*(?:/|,|&|\band\b)\s*`)
)

var reviewDateLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"January 2 2006",
	"January 2, 2006",
	"02/01/2006",
	time.RFC3339,
}

var flightMonthLayouts = []string{
	"January 2006",
	"Jan 2006",
	"2006-01",
	"01/2006",
}

// Transform converts one raw source record into a Review. Derived columns
// (date parts, flown month and year, route legs, aircraft split) are
// computed from their source columns when present.
func Transform(record gjson.Result) (*Review, error) {
	idField := record.Get("id")
	id, ok := parseInt(idField)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingID, idField.Raw)
	}

	r := &Review{
		ID:            id,
		Verified:      text(record, "verified"),
		Name:          text(record, "name"),
		MonthYearFly:  text(record, "month_year_fly"),
		Country:       text(record, "country"),
		Aircraft:      text(record, "aircraft"),
		Type:          text(record, "type"),
		SeatType:      text(record, "seat_type"),
		Route:         text(record, "route"),
		SeatComfort:   optFloat(record.Get("seat_comfort")),
		CabinServ:     optFloat(record.Get("cabin_serv")),
		Food:          optFloat(record.Get("food")),
		GroundService: optFloat(record.Get("ground_service")),
		Wifi:          optFloat(record.Get("wifi")),
		MoneyValue:    optInt(record.Get("money_value")),
		Score:         optFloat(record.Get("score")),
		Experience:    text(record, "experience"),
		Recommended:   strings.ToLower(text(record, "recommended")),
		Review:        text(record, "review"),
	}

	r.DateReview = text(record, "date_review")
	if d, ok := parseWithLayouts(stripOrdinal(r.DateReview), reviewDateLayouts); ok {
		r.DateReview = d.Format("2006-01-02")
		r.DayReview = ptr(int64(d.Day()))
		r.MonthReview = d.Month().String()
		r.MonthReviewNum = ptr(int64(d.Month()))
		r.YearReview = ptr(int64(d.Year()))
	}

	if m, ok := parseWithLayouts(r.MonthYearFly, flightMonthLayouts); ok {
		r.MonthFly = m.Month().String()
		r.MonthFlyNum = ptr(float64(m.Month()))
		r.YearFly = ptr(float64(m.Year()))
	}

	r.Origin, r.Destination, r.Transit = splitRoute(r.Route)
	r.Aircraft1, r.Aircraft2 = splitAircraft(r.Aircraft)

	return r, nil
}

// splitRoute parses "Origin to Destination via Transit"
func splitRoute(route string) (origin, destination, transit string) {
	if route == "" {
		return "", "", ""
	}
	legs := route
	if parts := routeVia.Split(route, 2); len(parts) == 2 {
		legs, transit = parts[0], strings.TrimSpace(parts[1])
	}
	parts := routeTo.Split(legs, 2)
	origin = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		destination = strings.TrimSpace(parts[1])
	}
	return origin, destination, transit
}

// splitAircraft returns the first two aircraft of a list such as "A320 / Boeing 737"
func splitAircraft(aircraft string) (string, string) {
	if aircraft == "" {
		return "", ""
	}
	var names []string
	for _, part := range aircraftSep.Split(aircraft, -1) {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	switch len(names) {
	case 0:
		return "", ""
	case 1:
		return names[0], ""
	default:
		return names[0], names[1]
	}
}

func stripOrdinal(s string) string {
	return ordinalSuffix.ReplaceAllString(s, "$1")
}

func parseWithLayouts(value string, layouts []string) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func text(record gjson.Result, key string) string {
	v := record.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func parseInt(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		if v.Num != float64(int64(v.Num)) {
			return 0, false
		}
		return v.Int(), true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func optInt(v gjson.Result) *int64 {
	f := optFloat(v)
	if f == nil {
		return nil
	}
	return ptr(int64(*f))
}

func optFloat(v gjson.Result) *float64 {
	switch v.Type {
	case gjson.Number:
		return ptr(v.Num)
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func ptr[T any](v T) *T {
	return &v
}
