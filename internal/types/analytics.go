package types

// HealthStatus summarises how close a subscription is to its end date
type HealthStatus string

const (
	HealthStatusExpired   HealthStatus = "expired"
	HealthStatusCritical  HealthStatus = "critical"
	HealthStatusWarning   HealthStatus = "warning"
	HealthStatusExcellent HealthStatus = "excellent"
)

const (
	// HealthCriticalDays is the inclusive upper bound of days remaining for critical health
	HealthCriticalDays = 7
	// HealthWarningDays is the inclusive upper bound of days remaining for warning health
	HealthWarningDays = 30

	// RecommendationUsageThreshold is the usage percentage from which an upgrade is suggested
	RecommendationUsageThreshold = 80.0
)

// RecommendationAction is the outcome of a plan recommendation
type RecommendationAction string

const (
	RecommendationActionUpgrade  RecommendationAction = "upgrade"
	RecommendationActionNoChange RecommendationAction = "no_change"
)
