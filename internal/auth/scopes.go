package auth

// OAuth scopes accepted by the scheduling API.
const (
	ScopeScheduleWrite = "schedule:write"
	ScopeScheduleRead  = "schedule:read"
)
