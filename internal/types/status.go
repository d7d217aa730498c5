package types

// Status is the row level lifecycle of a persisted record.
// Archived rows are excluded from every query.
type Status string

const (
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)
