package domain

// AutoApproveThreshold is the minimum score approved without a human.
const AutoApproveThreshold = 75

type Decision struct {
	Outcome  VerificationStatus `json:"outcome"`
	Decision AIDecision         `json:"decision"`
}

// Decide maps a score onto the automated outcome. There is no hysteresis and
// the threshold is the same for every document type.
func Decide(score int) Decision {
	if score >= AutoApproveThreshold {
		return Decision{Outcome: StatusAutoApproved, Decision: DecisionAutoApprove}
	}
	return Decision{Outcome: StatusPendingManualReview, Decision: DecisionNeedsReview}
}
