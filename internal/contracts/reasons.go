package contracts

// ReasonCode is a stable machine-readable code attached to decisions and
// outcomes. Codes are part of the wire contract; never rename them.
type ReasonCode string

const (
	// Safety
	ReasonSafetyBurnout  ReasonCode = "safety_burnout"
	ReasonSafetyCooldown ReasonCode = "safety_cooldown"
	ReasonSafetyOptOut   ReasonCode = "safety_opt_out"

	// Filters
	ReasonThirdRailMatch     ReasonCode = "third_rail_match"
	ReasonPlatformMismatch   ReasonCode = "platform_mismatch"
	ReasonGeoMismatch        ReasonCode = "geo_mismatch"
	ReasonCommercialMismatch ReasonCode = "commercial_mismatch"

	// Staleness
	ReasonStaleOver14d ReasonCode = "stale_over_14d"

	// Match score
	ReasonMMSBelowPrecheck ReasonCode = "mms_below_precheck"
	ReasonMMSBelowCache    ReasonCode = "mms_below_cache"

	// Pulse
	ReasonPulseFailDrift          ReasonCode = "pulse_fail_drift"
	ReasonPulseInconclusiveScrape ReasonCode = "pulse_inconclusive_scrape"

	// Budget
	ReasonBudgetExhausted     ReasonCode = "budget_exhausted"
	ReasonTimeBudgetExhausted ReasonCode = "time_budget_exhausted"
)
