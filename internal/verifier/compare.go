package verifier

// TrustLevel is the qualitative agreement between an independent verdict
// and a previously asserted one.
type TrustLevel string

const (
	TrustHigh             TrustLevel = "high"
	TrustConfirmedInvalid TrustLevel = "confirmed_invalid"
	TrustConflict         TrustLevel = "conflict"
	TrustUnverifiable     TrustLevel = "unverifiable"
)

// TrustComparison cross-checks a Result against an external verdict.
type TrustComparison struct {
	IndependentVerification bool       `json:"independent_verification"`
	OriginalVerification    bool       `json:"original_verification"`
	ResultsMatch            bool       `json:"results_match"`
	TrustLevel              TrustLevel `json:"trust_level"`
	Note                    string     `json:"note"`
}

// Compare reports how the independent result relates to original, the
// verdict some other system reached earlier. A result whose checks did not
// all run is unverifiable whatever original says.
func Compare(r *Result, original bool) TrustComparison {
	tc := TrustComparison{
		IndependentVerification: r.Valid,
		OriginalVerification:    original,
	}

	if !r.Completed() {
		tc.TrustLevel = TrustUnverifiable
		tc.Note = "Independent verification could not be completed"
		if r.Error != "" {
			tc.Note += ": " + r.Error
		}
		tc.Note += ". The original verdict cannot be confirmed."
		return tc
	}

	tc.ResultsMatch = r.Valid == original
	switch {
	case !tc.ResultsMatch:
		tc.TrustLevel = TrustConflict
		tc.Note = "Independent verification disagrees with the original system. " +
			"Treat the independent result as authoritative and investigate the original."
	case r.Valid:
		tc.TrustLevel = TrustHigh
		tc.Note = "Both verifications agree the timestamp is valid."
	default:
		tc.TrustLevel = TrustConfirmedInvalid
		tc.Note = "Both verifications agree the timestamp is invalid."
	}
	return tc
}
