package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

// RecordVerification logs the verdict for req and, when tc is set, the
// comparison against the earlier verdict. It is a no-op while audit
// logging is disabled.
func RecordVerification(actor *Actor, req verifier.Request, res *verifier.Result, tc *verifier.TrustComparison) error {
	if !Enabled() {
		return nil
	}

	v := Verification{
		Actor:           actor,
		Provider:        req.Provider,
		Valid:           res.Valid,
		HashMatch:       checkPtr(res.HashMatch),
		SignatureValid:  checkPtr(res.SignatureValid),
		ProviderMatched: checkPtr(res.ProviderMatched),
		Reason:          res.Error,
		Serial:          detail(res, "serial_number"),
		Subject:         detail(res, "signer_subject"),
		Algorithm:       detail(res, "hash_algorithm"),
		Policy:          detail(res, "policy"),
		GenTime:         detail(res, "gen_time"),
	}
	if canonical, err := tsa.Decode(req.Token); err == nil {
		sum := sha256.Sum256(canonical)
		v.TokenDigest = HashPrefix + hex.EncodeToString(sum[:])
	}

	if err := LogTSAVerify(v); err != nil {
		return err
	}
	if tc == nil {
		return nil
	}
	return LogTSACompare(req.Provider, v.Serial, tc.IndependentVerification,
		tc.OriginalVerification, string(tc.TrustLevel), tc.Note)
}

func detail(res *verifier.Result, key string) string {
	v, ok := res.Detail(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func checkPtr(c verifier.Check) *bool {
	if !c.Evaluated() {
		return nil
	}
	ok := c.OK()
	return &ok
}
