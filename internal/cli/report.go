package cli

import (
	"encoding/hex"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/remiblancher/tsa-verifier/internal/provider"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

const rule = "================================================================================"

func formatBool(b bool, t, f string) string {
	if b {
		return t
	}
	return f
}

func (p *Printer) check(c verifier.Check) string {
	switch c {
	case verifier.Passed:
		return p.FormatStatus("YES")
	case verifier.Failed:
		return p.FormatStatus("NO")
	default:
		return p.FormatStatus("NOT EVALUATED")
	}
}

// PrintQuiet prints a single VALID or INVALID line.
func (p *Printer) PrintQuiet(res *verifier.Result) {
	fmt.Fprintln(p.w, p.FormatStatus(formatBool(res.Valid, "VALID", "INVALID")))
}

// PrintResult prints a verification report. Verbose adds every diagnostic
// field in the order the verifier recorded them.
func (p *Printer) PrintResult(res *verifier.Result, verbose bool) {
	fmt.Fprintln(p.w, "Timestamp Token Verification:")
	fmt.Fprintf(p.w, "  Status:           %s\n", p.FormatStatus(formatBool(res.Valid, "VALID", "INVALID")))
	fmt.Fprintf(p.w, "  Hash Match:       %s\n", p.check(res.HashMatch))
	fmt.Fprintf(p.w, "  Signature Valid:  %s\n", p.check(res.SignatureValid))
	fmt.Fprintf(p.w, "  Provider Matched: %s\n", p.check(res.ProviderMatched))
	if res.Timestamp != nil {
		fmt.Fprintf(p.w, "  Time:             %s\n", res.Timestamp.UTC().Format(time.RFC3339))
	}
	if name, ok := res.Detail("provider_display_name"); ok {
		fmt.Fprintf(p.w, "  Provider:         %v\n", name)
	}
	if subject, ok := res.Detail("signer_subject"); ok {
		fmt.Fprintf(p.w, "  Signer:           %v\n", subject)
	}
	if res.Error != "" {
		fmt.Fprintf(p.w, "  Error:            %s\n", p.paint(ColorRed, res.Error))
	}

	if !verbose || res.Details == nil || res.Details.Len() == 0 {
		return
	}
	fmt.Fprintln(p.w, "\nDetails:")
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for pair := res.Details.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "  %s:\t%v\n", pair.Key, pair.Value)
	}
	_ = tw.Flush()
}

// PrintComparison prints the outcome of a cross-check against an earlier
// verdict.
func (p *Printer) PrintComparison(tc verifier.TrustComparison) {
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w, strings.Repeat(" ", 20)+"COMPARISON WITH ORIGINAL SYSTEM")
	fmt.Fprintln(p.w, rule)
	fmt.Fprintf(p.w, "\n  Independent Verification: %v\n", tc.IndependentVerification)
	fmt.Fprintf(p.w, "  Original System:          %v\n", tc.OriginalVerification)
	fmt.Fprintf(p.w, "  Results Match:            %v\n", tc.ResultsMatch)
	fmt.Fprintf(p.w, "  Trust Level:              %s\n", p.FormatStatus(string(tc.TrustLevel)))
	fmt.Fprintf(p.w, "\n  %s\n", tc.Note)
	fmt.Fprintln(p.w, "\n"+rule)
}

// PrintProviders prints the provider table.
func (p *Printer) PrintProviders(profiles []*provider.Profile) {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tTRUST\tHASHES\tALIASES")
	for _, prof := range profiles {
		hashes := "any"
		if algs := prof.Permitted(); len(algs) > 0 {
			names := make([]string, len(algs))
			for i, a := range algs {
				names[i] = a.String()
			}
			hashes = strings.Join(names, ",")
		}
		aliases := "-"
		if len(prof.Aliases) > 0 {
			aliases = strings.Join(prof.Aliases, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", prof.Name, prof.Title(), prof.Mode, hashes, aliases)
	}
	_ = tw.Flush()
	fmt.Fprintf(p.w, "\n%d provider(s)\n", len(profiles))
}

// PrintResponseStatus prints the status of a rejected TimeStampResp.
func (p *Printer) PrintResponseStatus(resp *tsa.TimeStampResp) {
	fmt.Fprintln(p.w, "Timestamp Response:")
	fmt.Fprintf(p.w, "  Status:       %s\n", resp.StatusString())
	if !resp.IsGranted() {
		fmt.Fprintf(p.w, "  Failure:      %s\n", p.paint(ColorRed, resp.Status.FailureString()))
	}
}

// PrintTokenInfo prints the contents of a parsed token without verifying it.
func (p *Printer) PrintTokenInfo(tok *tsa.Token) {
	if tok.Status != nil {
		fmt.Fprintln(p.w, "Timestamp Response:")
		fmt.Fprintf(p.w, "  Status:       %s\n\n", tok.Status.String())
	}

	info := tok.Info
	fmt.Fprintln(p.w, "Timestamp Token:")
	fmt.Fprintf(p.w, "  Version:      %d\n", info.Version)
	fmt.Fprintf(p.w, "  Serial:       %s\n", tok.SerialNumber().Text(16))
	fmt.Fprintf(p.w, "  Gen Time:     %s\n", tok.GenTime().UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(p.w, "  Policy:       %s\n", tok.Policy())
	fmt.Fprintf(p.w, "  Hash Alg:     %s\n", tok.HashAlgorithm())
	fmt.Fprintf(p.w, "  Imprint:      %s\n", hex.EncodeToString(tok.HashedMessage()))
	if !info.Accuracy.IsZero() {
		fmt.Fprintf(p.w, "  Accuracy:     %s\n", info.Accuracy.Duration())
	}
	fmt.Fprintf(p.w, "  Ordering:     %v\n", info.Ordering)
	if n := tok.Nonce(); n != nil {
		fmt.Fprintf(p.w, "  Nonce:        %s\n", n)
	}
	if name := tok.TSAName(); name != "" {
		fmt.Fprintf(p.w, "  TSA Name:     %s\n", name)
	}
	fmt.Fprintf(p.w, "  Signature:    %s\n", tok.SignatureAlgorithm())

	if len(tok.Certificates) == 0 {
		fmt.Fprintln(p.w, "\nCertificates: none embedded")
		return
	}
	fmt.Fprintf(p.w, "\nCertificates (%d):\n", len(tok.Certificates))
	for i, cert := range tok.Certificates {
		fmt.Fprintf(p.w, "  [%d] Subject:  %s\n", i, cert.Subject)
		fmt.Fprintf(p.w, "      Issuer:   %s\n", cert.Issuer)
		fmt.Fprintf(p.w, "      Valid:    %s to %s\n",
			cert.NotBefore.UTC().Format(time.RFC3339), cert.NotAfter.UTC().Format(time.RFC3339))
		fmt.Fprintf(p.w, "      SHA-256:  %s\n", hex.EncodeToString(tsa.Fingerprint(cert)))
	}
}
