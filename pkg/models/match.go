package models

// MatchStatus is the outcome of one resolve call.
type MatchStatus string

const (
	MatchResolved   MatchStatus = "Resolved"
	MatchUnresolved MatchStatus = "Unresolved"
	MatchError      MatchStatus = "Error"
)

// MatchTier records which tier of the cascade produced a resolution.
type MatchTier string

const (
	TierExact MatchTier = "Exact"
	TierFuzzy MatchTier = "Fuzzy"
	TierLLM   MatchTier = "LLM"
)

// UnresolvedReason distinguishes the ways a resolve call can come back
// without a winner. Callers use it to decide between retrying next run
// (arbiter failures are transient) and permanently skipping.
type UnresolvedReason string

const (
	ReasonNone              UnresolvedReason = ""
	ReasonNoViableCandidate UnresolvedReason = "no_viable_candidates"
	ReasonAmbiguous         UnresolvedReason = "ambiguous"
	ReasonArbiterSaidNone   UnresolvedReason = "arbiter_said_none"
	ReasonArbiterFailed     UnresolvedReason = "arbiter_failed"
)

// MatchCandidate is one roster name considered during resolution, kept for
// the audit trail.
type MatchCandidate struct {
	EntityID int    `json:"entity_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// MatchDecision is the ephemeral result of resolving a guessed name against
// the roster. The resolver never mutates the record; the caller applies the
// decision.
type MatchDecision struct {
	Status     MatchStatus      `json:"status"`
	EntityID   int              `json:"entity_id,omitempty"`
	EntityName string           `json:"entity_name,omitempty"`
	Tier       MatchTier        `json:"tier,omitempty"`
	Reason     UnresolvedReason `json:"reason,omitempty"`
	Candidates []MatchCandidate `json:"candidates,omitempty"`
}
