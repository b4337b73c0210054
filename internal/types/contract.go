package types

// ViolationSeverity classifies a contract violation.
type ViolationSeverity string

const (
	SeverityBreaking ViolationSeverity = "BREAKING"
	SeverityWarning  ViolationSeverity = "WARNING"
	SeverityInfo     ViolationSeverity = "INFO"
)

// ContractViolation is one schema contract discrepancy for a model.
type ContractViolation struct {
	Model    string            `json:"model"`
	Column   string            `json:"column,omitempty"`
	Severity ViolationSeverity `json:"severity"`
	Message  string            `json:"message"`
}
