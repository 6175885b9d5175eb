package types

import "time"

// ContextLevel controls how aggressively memory is pulled into a request.
type ContextLevel string

const (
	ContextMinimal       ContextLevel = "minimal"
	ContextBalanced      ContextLevel = "balanced"
	ContextComprehensive ContextLevel = "comprehensive"
)

// Valid reports whether the level is one of the known values.
func (l ContextLevel) Valid() bool {
	switch l {
	case ContextMinimal, ContextBalanced, ContextComprehensive:
		return true
	}
	return false
}

// Verdict is the validation pipeline's judgement of the final answer.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictHedged   Verdict = "hedged"
	VerdictRejected Verdict = "rejected"
)

// OrchestrationRequest is a single inbound query.
type OrchestrationRequest struct {
	UserID          string       `json:"userId"`
	ConversationID  string       `json:"conversationId"`
	Message         string       `json:"message"`
	IsPersonalQuery bool         `json:"isPersonalQuery,omitempty"`
	ContextLevel    ContextLevel `json:"contextLevel,omitempty"`
}

// OrchestrationResponse is the composed result returned to the caller.
// MemoryReferences lists the exact memory record ids surfaced into the
// answer; no silent context injection.
type OrchestrationResponse struct {
	Content          string     `json:"content,omitempty"`
	ProviderUsed     string     `json:"providerUsed,omitempty"`
	FallbackUsed     bool       `json:"fallbackUsed"`
	MemoryReferences []string   `json:"memoryReferences,omitempty"`
	LatencyMs        int64      `json:"latencyMs"`
	Verdict          Verdict    `json:"verdict,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
	Error            *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the wire form of a terminal error.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewErrorResponse builds a response carrying only the terminal error.
func NewErrorResponse(err *Error, latency time.Duration) *OrchestrationResponse {
	return &OrchestrationResponse{
		LatencyMs: latency.Milliseconds(),
		Error: &ErrorInfo{
			Kind:    string(err.Kind),
			Message: err.Message,
		},
	}
}
