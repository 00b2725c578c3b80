package enums

import "fmt"

// CreditTransactionType enumerates the reasons a tenant's credit balance moves.
type CreditTransactionType string

const (
	CreditTransactionUsageDebit            CreditTransactionType = "usage_debit"
	CreditTransactionManualCredit          CreditTransactionType = "manual_credit"
	CreditTransactionManualAdjustment      CreditTransactionType = "manual_adjustment"
	CreditTransactionRechargeCredit        CreditTransactionType = "recharge_credit"
	CreditTransactionOrgDeletionAdjustment CreditTransactionType = "org_deletion_adjustment"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionUsageDebit,
	CreditTransactionManualCredit,
	CreditTransactionManualAdjustment,
	CreditTransactionRechargeCredit,
	CreditTransactionOrgDeletionAdjustment,
}

// IsValid reports whether the value matches the canonical transaction types.
func (t CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditTransactionType converts raw input into CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
