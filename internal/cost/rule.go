package cost

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

const dateLayout = "2006-01-02"

// Validation failure reasons.
const (
	ReasonPriceAndEntity       = "price_and_entity"
	ReasonNoPriceOrEntity      = "no_price_or_entity"
	ReasonEntityWithTimeFilter = "entity_with_time_filter"
	ReasonInvalidDate          = "invalid_date"
	ReasonInvalidTime          = "invalid_time"
	ReasonInvalidWeekday       = "invalid_weekday"
)

var weekdayAbbr = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// ValidationError reports a malformed cost rule at configuration time.
type ValidationError struct {
	Index  int
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cost rule %d: %s: %s", e.Index, e.Reason, e.Detail)
	}
	return fmt.Sprintf("cost rule %d: %s", e.Index, e.Reason)
}

// RuleConfig is the configuration form of a pricing rule.
type RuleConfig struct {
	Price     *float64 `mapstructure:"price" json:"price,omitempty" yaml:"price,omitempty"`
	EntityID  string   `mapstructure:"entity_id" json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	StartDate string   `mapstructure:"start_date" json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string   `mapstructure:"end_date" json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Weekday   []string `mapstructure:"weekday" json:"weekday,omitempty" yaml:"weekday,omitempty"`
	After     string   `mapstructure:"after" json:"after,omitempty" yaml:"after,omitempty"`
	Before    string   `mapstructure:"before" json:"before,omitempty" yaml:"before,omitempty"`
}

type clock struct {
	hour, minute int
}

// Rule is a validated pricing rule. Either Price or EntityID is set.
type Rule struct {
	Price    *float64
	EntityID string

	startDate string
	endDate   string
	weekdays  []string
	after     *clock
	before    *clock
}

// ParseRules validates configs in order and returns the matching rules.
func ParseRules(configs []RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	for i, rc := range configs {
		r, err := ParseRule(i, rc)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ParseRule validates a single rule. index is only used for error reporting.
func ParseRule(index int, rc RuleConfig) (Rule, error) {
	hasPrice := rc.Price != nil
	hasEntity := strings.TrimSpace(rc.EntityID) != ""

	switch {
	case hasPrice && hasEntity:
		return Rule{}, &ValidationError{Index: index, Reason: ReasonPriceAndEntity}
	case !hasPrice && !hasEntity:
		return Rule{}, &ValidationError{Index: index, Reason: ReasonNoPriceOrEntity}
	case hasEntity && (rc.After != "" || rc.Before != "" || len(rc.Weekday) > 0):
		return Rule{}, &ValidationError{Index: index, Reason: ReasonEntityWithTimeFilter}
	}

	r := Rule{
		Price:    rc.Price,
		EntityID: strings.TrimSpace(rc.EntityID),
	}

	for _, d := range []struct {
		raw string
		dst *string
	}{{rc.StartDate, &r.startDate}, {rc.EndDate, &r.endDate}} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.Parse(dateLayout, d.raw)
		if err != nil {
			return Rule{}, &ValidationError{Index: index, Reason: ReasonInvalidDate, Detail: d.raw}
		}
		*d.dst = parsed.Format(dateLayout)
	}

	known := lo.Values(weekdayAbbr)
	for _, w := range rc.Weekday {
		w = strings.ToLower(strings.TrimSpace(w))
		if !lo.Contains(known, w) {
			return Rule{}, &ValidationError{Index: index, Reason: ReasonInvalidWeekday, Detail: w}
		}
		r.weekdays = append(r.weekdays, w)
	}

	var err error
	if r.after, err = parseClock(rc.After); err != nil {
		return Rule{}, &ValidationError{Index: index, Reason: ReasonInvalidTime, Detail: rc.After}
	}
	if r.before, err = parseClock(rc.Before); err != nil {
		return Rule{}, &ValidationError{Index: index, Reason: ReasonInvalidTime, Detail: rc.Before}
	}

	return r, nil
}

// parseClock reads "HH" or "HH:MM"; the minute defaults to 0.
func parseClock(s string) (*clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return nil, fmt.Errorf("invalid hour %q", s)
	}
	m := 0
	if len(parts) > 1 {
		m, err = strconv.Atoi(parts[1])
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("invalid minute %q", s)
		}
	}
	return &clock{hour: h, minute: m}, nil
}

// Matches reports whether the rule applies at t. Dates compare on t's
// calendar day; end_date is exclusive.
func (r Rule) Matches(t time.Time) bool {
	day := t.Format(dateLayout)
	if r.startDate != "" && day < r.startDate {
		return false
	}
	if r.endDate != "" && day >= r.endDate {
		return false
	}
	if len(r.weekdays) > 0 && !lo.Contains(r.weekdays, weekdayAbbr[t.Weekday()]) {
		return false
	}
	if r.after != nil {
		if t.Hour() < r.after.hour || (t.Hour() == r.after.hour && t.Minute() < r.after.minute) {
			return false
		}
	}
	if r.before != nil {
		if t.Hour() > r.before.hour || (t.Hour() == r.before.hour && t.Minute() >= r.before.minute) {
			return false
		}
	}
	return true
}

// FirstMatch returns the first rule in list order that applies at t.
func FirstMatch(rules []Rule, t time.Time) (Rule, bool) {
	return lo.Find(rules, func(r Rule) bool { return r.Matches(t) })
}

// EntityIDs lists the distinct price entities referenced by rules.
func EntityIDs(rules []Rule) []string {
	ids := lo.FilterMap(rules, func(r Rule, _ int) (string, bool) {
		return r.EntityID, r.EntityID != ""
	})
	return lo.Uniq(ids)
}
