package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/audit"
	"github.com/remiblancher/tsa-verifier/internal/cli"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
	"github.com/remiblancher/tsa-verifier/internal/verifier"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a timestamp token",
	Long: `Verify an RFC 3161 timestamp token against a document hash.

The token is read either from a .tsr file (DER TimeStampToken or
TimeStampResp), together with --hash and --provider, or from a JSON
document carrying hash, timestamp_token and provider.

Exit status is 0 when the token is valid, 1 otherwise, and 130 when
interrupted.

Examples:
  # Verify a token file
  tsaverify verify --tsr contract.tsr --hash 9f86d081884c7d65... --provider digicert

  # Verify a JSON document with full diagnostics
  tsaverify verify --json record.json --verbose

  # Cross-check the verdict another system recorded
  tsaverify verify --json record.json --compare true

  # Machine-readable output
  tsaverify verify --tsr contract.tsr --hash sha256:9f86... --provider digicert --format json`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var (
	verifyTSR      string
	verifyHash     string
	verifyHashAlg  string
	verifyProvider string
	verifyJSON     string
	verifyCompare  string
	verifyFormat   string
	verifyVerbose  bool
	verifyQuiet    bool
)

func init() {
	verifyCmd.Flags().StringVar(&verifyTSR, "tsr", "", "Timestamp token file (.tsr)")
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "Document hash (hex, optionally prefixed with algorithm:)")
	verifyCmd.Flags().StringVar(&verifyHashAlg, "hash-algorithm", "", "Declared hash algorithm (sha256, sha384, sha512, ...)")
	verifyCmd.Flags().StringVar(&verifyProvider, "provider", "", "TSA provider name or alias, e.g. ssl, freetsa, sectigo (see 'tsaverify providers')")
	verifyCmd.Flags().StringVar(&verifyJSON, "json", "", "JSON document with hash, timestamp_token and provider")
	verifyCmd.Flags().StringVar(&verifyCompare, "compare", "", "Verdict of the original system to cross-check (true|false)")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format (text, json)")
	verifyCmd.Flags().BoolVarP(&verifyVerbose, "verbose", "v", false, "Show all diagnostic details")
	verifyCmd.Flags().BoolVarP(&verifyQuiet, "quiet", "q", false, "Only print VALID or INVALID")

	verifyCmd.MarkFlagsMutuallyExclusive("tsr", "json")
	verifyCmd.MarkFlagsOneRequired("tsr", "json")
	verifyCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// verifyOutput is the --format json document.
type verifyOutput struct {
	*verifier.Result
	Comparison *verifier.TrustComparison `json:"comparison,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)

	original, err := parseCompare(verifyCompare)
	if err != nil {
		return err
	}
	if verifyFormat != "text" && verifyFormat != "json" {
		return fmt.Errorf("invalid --format %q: use text or json", verifyFormat)
	}

	req, docOriginal, err := buildRequest()
	if err != nil {
		return err
	}
	if original == nil {
		original = docOriginal
	}

	reg, err := loadRegistry(providersFile, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	text := verifyFormat == "text"
	if text && !verifyQuiet {
		if verifyTSR != "" {
			fmt.Fprintf(out, "Verifying timestamp token from: %s\n", verifyTSR)
			fmt.Fprintf(out, "Document hash: %s\n", abbreviate(req.Hash, 32))
			fmt.Fprintf(out, "Provider:      %s\n\n", req.Provider)
		} else {
			fmt.Fprintf(out, "Verifying from JSON file: %s\n\n", verifyJSON)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	v := verifier.New(reg, verifier.WithLogger(logger))
	res := v.Verify(ctx, req)
	if errors.Is(res.Err, context.Canceled) {
		return &exitError{code: exitInterrupted, err: errors.New("verification cancelled by user")}
	}

	var tc *verifier.TrustComparison
	if original != nil {
		c := verifier.Compare(res, *original)
		tc = &c
	}

	if err := audit.RecordVerification(nil, req, res, tc); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	p := cli.NewPrinter(out)
	switch {
	case !text:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(verifyOutput{Result: res, Comparison: tc}); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	case verifyQuiet:
		p.PrintQuiet(res)
	default:
		p.PrintResult(res, verifyVerbose)
		if tc != nil {
			fmt.Fprintln(out)
			p.PrintComparison(*tc)
		}
	}

	if !res.Valid {
		return &exitError{code: exitInvalid, err: errors.New("timestamp token is not valid"), silent: true}
	}
	return nil
}

// buildRequest turns the flags into a verification request.
func buildRequest() (verifier.Request, *bool, error) {
	if verifyJSON != "" {
		data, err := os.ReadFile(verifyJSON)
		if err != nil {
			return verifier.Request{}, nil, fmt.Errorf("failed to read JSON file: %w", err)
		}
		doc, err := verifier.ParseDocument(data)
		if err != nil {
			return verifier.Request{}, nil, err
		}
		if verifyProvider != "" {
			doc.Request.Provider = verifyProvider
		}
		if verifyHash != "" {
			doc.Request.Hash = verifyHash
		}
		if verifyHashAlg != "" {
			if doc.Request.HashAlgorithm, err = tsa.ParseHashAlgorithm(verifyHashAlg); err != nil {
				return verifier.Request{}, nil, err
			}
		}
		return doc.Request, doc.OriginalVerified, nil
	}

	if verifyHash == "" || verifyProvider == "" {
		return verifier.Request{}, nil, errors.New("--tsr requires both --hash and --provider")
	}
	data, err := os.ReadFile(verifyTSR)
	if err != nil {
		return verifier.Request{}, nil, fmt.Errorf("failed to read token file: %w", err)
	}
	req := verifier.Request{
		Token:    tsa.BinaryToken(data),
		Hash:     verifyHash,
		Provider: verifyProvider,
	}
	if verifyHashAlg != "" {
		if req.HashAlgorithm, err = tsa.ParseHashAlgorithm(verifyHashAlg); err != nil {
			return verifier.Request{}, nil, err
		}
	}
	return req, nil, nil
}

func parseCompare(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	var b bool
	switch strings.ToLower(s) {
	case "true":
		b = true
	case "false":
	default:
		return nil, fmt.Errorf("invalid --compare %q: use true or false", s)
	}
	return &b, nil
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
