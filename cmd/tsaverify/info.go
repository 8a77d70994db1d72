package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/cli"
	"github.com/remiblancher/tsa-verifier/internal/tsa"
)

var infoCmd = &cobra.Command{
	Use:   "info <token-file>",
	Short: "Display timestamp token information",
	Long: `Display the contents of a timestamp token without verifying it.

Shows the serial number, generation time, policy, message imprint and the
embedded certificates. The file may hold a DER TimeStampToken, a DER
TimeStampResp, or either of them base64-encoded.

Examples:
  tsaverify info contract.tsr`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	der, err := tokenBytes(data)
	if err != nil {
		return err
	}

	p := cli.NewPrinter(cmd.OutOrStdout())

	// A rejected response carries no token; show why.
	if resp, err := tsa.ParseResponse(der); err == nil && !resp.IsGranted() {
		p.PrintResponseStatus(resp)
		return &exitError{code: exitInvalid, err: errors.New("timestamp response was rejected"), silent: true}
	}

	tok, err := tsa.ParseToken(der)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}
	p.PrintTokenInfo(tok)
	return nil
}

// tokenBytes accepts DER or base64 text.
func tokenBytes(data []byte) ([]byte, error) {
	if len(data) > 0 && data[0] == 0x30 {
		return data, nil
	}
	return tsa.Decode(tsa.Base64Token(string(bytes.TrimSpace(data))))
}
