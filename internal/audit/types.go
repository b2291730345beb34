package audit

import "time"

// Policy mirrors the policies table. Limits are signed; a negative value
// (convention -1) means unlimited. AllowedModels is either "*" or a
// comma-separated list of model identifiers.
type Policy struct {
	ID                string
	Name              string
	DailyTokenLimit   int64
	MonthlyTokenLimit int64
	AllowedModels     string
	CreatedAt         time.Time
}

// DefaultPolicyID is immortal: it must always exist and cannot be deleted.
const DefaultPolicyID = "default"

// User mirrors the users table. IsActive is stored as 0/1 per spec.md §3.
type User struct {
	ID        string
	IsActive  bool
	PolicyID  string
	CreatedAt time.Time
}

// GroupPolicy maps an external group name to a policy, higher Priority
// winning ties (broken by group_name lexicographic order on equality).
type GroupPolicy struct {
	GroupName string
	PolicyID  string
	Priority  int
	CreatedAt time.Time
}

// UsageLog is one append-only row per completed inference.
type UsageLog struct {
	ID               int64
	UserID           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	TotalCost        float64
	TS               time.Time
}

// RequestLog is one append-only row per proxied request.
type RequestLog struct {
	ID          int64
	UserID      string
	Model       string
	Path        string
	Method      string
	Status      int
	IsStream    bool
	LatencyMS   int64
	TotalCost   float64
	StartedAt   time.Time
	CompletedAt time.Time
}

// Stats is the GET /admin/stats aggregate payload.
type Stats struct {
	TotalUsageRows    int64
	TotalTokens       int64
	TotalCost         float64
	Last24hRequests   int64
	Last24hTokens     int64
	Last24hP50Latency float64
	Last24hP95Latency float64
	Last24hP99Latency float64
	TopModels         []NamedCount
	TopUsers          []NamedCount
}

// NamedCount is a (name, count) pair used for top-5 breakdowns.
type NamedCount struct {
	Name  string
	Count int64
}

// Performance is the GET /admin/performance payload.
type Performance struct {
	AvgLatencyMS float64
	P50LatencyMS float64
	P95LatencyMS float64
	P99LatencyMS float64
	MaxLatencyMS float64
	Recent       []RequestLog
}
