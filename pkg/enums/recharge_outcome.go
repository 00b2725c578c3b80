package enums

// RechargeOutcome is the terminal decision of one auto-recharge evaluation.
type RechargeOutcome string

const (
	RechargeOutcomeNotNeeded    RechargeOutcome = "not_needed"
	RechargeOutcomeCooling      RechargeOutcome = "cooling"
	RechargeOutcomeConflict     RechargeOutcome = "conflict"
	RechargeOutcomeCharged      RechargeOutcome = "charged"
	RechargeOutcomeChargeFailed RechargeOutcome = "charge_failed"
)

// Triggered reports whether the evaluation won the claim and reached the gateway.
func (o RechargeOutcome) Triggered() bool {
	return o == RechargeOutcomeCharged || o == RechargeOutcomeChargeFailed
}

// RechargeSource records which caller asked for an evaluation.
type RechargeSource string

const (
	RechargeSourceDebit  RechargeSource = "post_debit"
	RechargeSourceSweep  RechargeSource = "sweep"
	RechargeSourceManual RechargeSource = "manual"
)
