// Package matcher classifies a bank transaction against a pool of ledger
// entries.
//
// Classification runs in a fixed order and the first stage that produces a
// result wins:
//  1. Transfer detection on the external id and descriptors
//  2. Exact single-entry match (amount within epsilon, tight date window)
//  3. Aggregate match (a subset of entries summing to the bank amount)
//  4. Suggested match, primary tier then fallback tier
//  5. No match
//
// Only entries whose signed polarity agrees with the bank amount take part
// in stages 2 to 4. Classification is pure: the same inputs always yield
// the same MatchResult.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.SuggestedTolerancePercent = 5
//
//	m := matcher.NewMatcher(config, transfer.Default())
//	result := m.Classify(txn, pool)
package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conciliation-service/internal/models"
)

// TimezoneMode defines how posted dates are compared across time zones.
type TimezoneMode int

const (
	// TimezoneUTC converts both instants to UTC before taking their dates.
	TimezoneUTC TimezoneMode = iota

	// TimezoneLocal converts both instants to the local zone.
	TimezoneLocal

	// TimezoneIgnore compares the calendar dates as recorded. Statement
	// lines and ledger entries rarely carry meaningful times, so this is
	// the default.
	TimezoneIgnore

	// TimezoneBusiness converts both instants to BusinessTimezone.
	TimezoneBusiness
)

// String returns the string representation of TimezoneMode
func (tm TimezoneMode) String() string {
	switch tm {
	case TimezoneUTC:
		return "UTC"
	case TimezoneLocal:
		return "Local"
	case TimezoneIgnore:
		return "Ignore"
	case TimezoneBusiness:
		return "Business"
	default:
		return "Unknown"
	}
}

// ParseTimezoneMode parses the configuration spelling of a TimezoneMode.
func ParseTimezoneMode(value string) (TimezoneMode, error) {
	switch value {
	case "utc", "UTC":
		return TimezoneUTC, nil
	case "local", "Local":
		return TimezoneLocal, nil
	case "", "ignore", "Ignore":
		return TimezoneIgnore, nil
	case "business", "Business":
		return TimezoneBusiness, nil
	default:
		return TimezoneIgnore, fmt.Errorf("invalid timezone mode: %q", value)
	}
}

// ToleranceTier is one band of the suggested-match search.
type ToleranceTier struct {
	TolerancePercent float64
	DateWindowDays   int
	Confidence       models.Confidence
}

// MatchingConfig holds the tolerances used by the Matcher.
//
// The suggested-match search has two tiers: a primary tier with the tighter
// tolerance and a fallback tier with the looser one. Both the amount and the
// date must fall inside the tier.
type MatchingConfig struct {
	// AmountEpsilon is the currency rounding tolerance for "equal" amounts
	AmountEpsilon float64 `json:"amount_epsilon" mapstructure:"amount_epsilon"`

	// ExactDateWindowDays bounds the date distance of an exact match
	ExactDateWindowDays int `json:"exact_date_window_days" mapstructure:"exact_date_window_days"`

	SuggestedTolerancePercent float64 `json:"suggested_tolerance_percent" mapstructure:"suggested_tolerance_percent"`
	SuggestedDateWindowDays   int     `json:"suggested_date_window_days" mapstructure:"suggested_date_window_days"`
	FallbackTolerancePercent  float64 `json:"fallback_tolerance_percent" mapstructure:"fallback_tolerance_percent"`
	FallbackDateWindowDays    int     `json:"fallback_date_window_days" mapstructure:"fallback_date_window_days"`

	// EnableAggregates turns the multi-entry subset search on
	EnableAggregates bool `json:"enable_aggregates" mapstructure:"enable_aggregates"`

	// AggregateDateWindowDays bounds the date distance of every constituent
	AggregateDateWindowDays int `json:"aggregate_date_window_days" mapstructure:"aggregate_date_window_days"`

	// MaxAggregateSize is the largest number of entries in one aggregate
	MaxAggregateSize int `json:"max_aggregate_size" mapstructure:"max_aggregate_size"`

	// MaxAggregateCandidates caps the entries fed to the subset search
	MaxAggregateCandidates int `json:"max_aggregate_candidates" mapstructure:"max_aggregate_candidates"`

	// MaxSearchSteps caps the nodes visited by the subset search
	MaxSearchSteps int `json:"max_search_steps" mapstructure:"max_search_steps"`

	// ConfirmTolerancePercent widens the sum check applied on confirmation
	ConfirmTolerancePercent float64 `json:"confirm_tolerance_percent" mapstructure:"confirm_tolerance_percent"`

	TimezoneHandling TimezoneMode `json:"timezone_handling" mapstructure:"timezone_handling"`
	BusinessTimezone string       `json:"business_timezone" mapstructure:"business_timezone"`
}

// DefaultMatchingConfig returns a configuration with the primary tolerances
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountEpsilon:             0.005,
		ExactDateWindowDays:       3,
		SuggestedTolerancePercent: 10,
		SuggestedDateWindowDays:   3,
		FallbackTolerancePercent:  15,
		FallbackDateWindowDays:    14,
		EnableAggregates:          true,
		AggregateDateWindowDays:   14,
		MaxAggregateSize:          10,
		MaxAggregateCandidates:    24,
		MaxSearchSteps:            200000,
		ConfirmTolerancePercent:   0,
		TimezoneHandling:          TimezoneIgnore,
		BusinessTimezone:          "UTC",
	}
}

// StrictMatchingConfig returns a configuration that only proposes same-day
// exact matches and small aggregates
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountEpsilon:             0.005,
		ExactDateWindowDays:       0,
		SuggestedTolerancePercent: 0,
		SuggestedDateWindowDays:   0,
		FallbackTolerancePercent:  0,
		FallbackDateWindowDays:    0,
		EnableAggregates:          true,
		AggregateDateWindowDays:   3,
		MaxAggregateSize:          4,
		MaxAggregateCandidates:    12,
		MaxSearchSteps:            20000,
		ConfirmTolerancePercent:   0,
		TimezoneHandling:          TimezoneIgnore,
		BusinessTimezone:          "UTC",
	}
}

// RelaxedMatchingConfig returns a configuration for exploratory matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountEpsilon:             0.01,
		ExactDateWindowDays:       5,
		SuggestedTolerancePercent: 15,
		SuggestedDateWindowDays:   7,
		FallbackTolerancePercent:  25,
		FallbackDateWindowDays:    30,
		EnableAggregates:          true,
		AggregateDateWindowDays:   30,
		MaxAggregateSize:          12,
		MaxAggregateCandidates:    30,
		MaxSearchSteps:            1000000,
		ConfirmTolerancePercent:   1,
		TimezoneHandling:          TimezoneIgnore,
		BusinessTimezone:          "UTC",
	}
}

// Matching profiles selectable through configuration
const (
	ProfileDefault = "default"
	ProfileStrict  = "strict"
	ProfileRelaxed = "relaxed"
)

// MatchingConfigForProfile returns the preset named by profile. An empty
// name selects the default preset.
func MatchingConfigForProfile(profile string) (*MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(profile)) {
	case "", ProfileDefault:
		return DefaultMatchingConfig(), nil
	case ProfileStrict:
		return StrictMatchingConfig(), nil
	case ProfileRelaxed:
		return RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching profile %q (expected default, strict or relaxed)", profile)
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.AmountEpsilon < 0 || mc.AmountEpsilon >= 1 {
		return fmt.Errorf("amount epsilon must be between 0 and 1: %f", mc.AmountEpsilon)
	}

	windows := map[string]int{
		"exact date window":     mc.ExactDateWindowDays,
		"suggested date window": mc.SuggestedDateWindowDays,
		"fallback date window":  mc.FallbackDateWindowDays,
		"aggregate date window": mc.AggregateDateWindowDays,
	}
	for name, days := range windows {
		if days < 0 {
			return fmt.Errorf("%s cannot be negative: %d", name, days)
		}
	}

	percents := map[string]float64{
		"suggested tolerance percent": mc.SuggestedTolerancePercent,
		"fallback tolerance percent":  mc.FallbackTolerancePercent,
		"confirm tolerance percent":   mc.ConfirmTolerancePercent,
	}
	for name, pct := range percents {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%s must be between 0.0 and 100.0: %f", name, pct)
		}
	}

	if mc.FallbackTolerancePercent < mc.SuggestedTolerancePercent {
		return fmt.Errorf("fallback tolerance (%.2f%%) cannot be tighter than suggested tolerance (%.2f%%)",
			mc.FallbackTolerancePercent, mc.SuggestedTolerancePercent)
	}
	if mc.FallbackDateWindowDays < mc.SuggestedDateWindowDays {
		return fmt.Errorf("fallback date window (%d) cannot be tighter than suggested date window (%d)",
			mc.FallbackDateWindowDays, mc.SuggestedDateWindowDays)
	}

	if mc.EnableAggregates {
		if mc.MaxAggregateSize < 2 {
			return fmt.Errorf("max aggregate size must be at least 2: %d", mc.MaxAggregateSize)
		}
		if mc.MaxAggregateCandidates < mc.MaxAggregateSize {
			return fmt.Errorf("max aggregate candidates (%d) must be at least max aggregate size (%d)",
				mc.MaxAggregateCandidates, mc.MaxAggregateSize)
		}
		if mc.MaxAggregateCandidates > 64 {
			return fmt.Errorf("max aggregate candidates cannot exceed 64: %d", mc.MaxAggregateCandidates)
		}
		if mc.MaxSearchSteps <= 0 {
			return fmt.Errorf("max search steps must be positive: %d", mc.MaxSearchSteps)
		}
	}

	if mc.TimezoneHandling == TimezoneBusiness {
		if _, err := time.LoadLocation(mc.BusinessTimezone); err != nil {
			return fmt.Errorf("invalid business timezone '%s': %w", mc.BusinessTimezone, err)
		}
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// Epsilon returns AmountEpsilon as a decimal.
func (mc *MatchingConfig) Epsilon() decimal.Decimal {
	return decimal.NewFromFloat(mc.AmountEpsilon)
}

// Tiers returns the suggested-match tiers in the order they are tried.
func (mc *MatchingConfig) Tiers() []ToleranceTier {
	return []ToleranceTier{
		{TolerancePercent: mc.SuggestedTolerancePercent, DateWindowDays: mc.SuggestedDateWindowDays, Confidence: models.ConfidenceMedium},
		{TolerancePercent: mc.FallbackTolerancePercent, DateWindowDays: mc.FallbackDateWindowDays, Confidence: models.ConfidenceLow},
	}
}

// WidestDateWindow is the largest date window any stage looks at. Callers
// use it to bound the candidate pool they load.
func (mc *MatchingConfig) WidestDateWindow() int {
	widest := mc.ExactDateWindowDays
	for _, d := range []int{mc.SuggestedDateWindowDays, mc.FallbackDateWindowDays, mc.AggregateDateWindowDays} {
		if d > widest {
			widest = d
		}
	}
	return widest
}

// GetAmountTolerance returns percent of |amount|, never less than the epsilon.
func (mc *MatchingConfig) GetAmountTolerance(amount decimal.Decimal, percent float64) decimal.Decimal {
	eps := mc.Epsilon()
	if percent <= 0 {
		return eps
	}
	tolerance := amount.Abs().Mul(decimal.NewFromFloat(percent / 100.0))
	if tolerance.LessThan(eps) {
		return eps
	}
	return tolerance
}

// AmountsEqual reports whether two amounts differ by no more than the epsilon.
func (mc *MatchingConfig) AmountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(mc.Epsilon())
}

// NormalizeTime normalizes time according to the timezone handling configuration
func (mc *MatchingConfig) NormalizeTime(t time.Time) time.Time {
	switch mc.TimezoneHandling {
	case TimezoneUTC:
		return t.UTC()
	case TimezoneLocal:
		return t.Local()
	case TimezoneIgnore:
		return models.DateOnly(t)
	case TimezoneBusiness:
		if loc, err := time.LoadLocation(mc.BusinessTimezone); err == nil {
			return t.In(loc)
		}
		return t.UTC()
	default:
		return t
	}
}

// DayDistance returns the number of calendar days between two instants
// after normalization.
func (mc *MatchingConfig) DayDistance(a, b time.Time) int {
	return models.DayDistance(mc.NormalizeTime(a), mc.NormalizeTime(b))
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Epsilon: %.3f, Exact: %dd, Suggested: %.1f%%/%dd, Fallback: %.1f%%/%dd, Aggregate: %v up to %d within %dd, Timezone: %s}",
		mc.AmountEpsilon, mc.ExactDateWindowDays,
		mc.SuggestedTolerancePercent, mc.SuggestedDateWindowDays,
		mc.FallbackTolerancePercent, mc.FallbackDateWindowDays,
		mc.EnableAggregates, mc.MaxAggregateSize, mc.AggregateDateWindowDays,
		mc.TimezoneHandling.String())
}
