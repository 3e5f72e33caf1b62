package checkout

// Stage is a state of the checkout pipeline.
type Stage string

const (
	StageIdle                  Stage = "IDLE"
	StageValidatingAddress     Stage = "VALIDATING_ADDRESS"
	StageCreatingPaymentIntent Stage = "CREATING_PAYMENT_INTENT"
	StageConfirmingPayment     Stage = "CONFIRMING_PAYMENT"
	StagePersistingOrder       Stage = "PERSISTING_ORDER"
	StageClearingCart          Stage = "CLEARING_CART"
	StageDone                  Stage = "DONE"
	StageFailed                Stage = "FAILED"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}
