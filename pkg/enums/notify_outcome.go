package enums

// NotifyOutcome is the business-level result reported by the bot gateway.
// A 200 response can still carry a partial or error status in the body.
type NotifyOutcome string

const (
	// NotifyOutcomeSuccess means every component of the purchase was delivered.
	NotifyOutcomeSuccess NotifyOutcome = "success"
	// NotifyOutcomePartial means some but not all bundle components went out.
	NotifyOutcomePartial NotifyOutcome = "partial"
	// NotifyOutcomeFailure means nothing was delivered.
	NotifyOutcomeFailure NotifyOutcome = "failure"
)

// String implements fmt.Stringer.
func (o NotifyOutcome) String() string {
	return string(o)
}
