package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsa-verifier/internal/cli"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Aliases: []string{"list-providers"},
	Short:   "List known TSA providers",
	Long: `List the timestamping authorities tokens can be verified against.

The built-in table can be extended or overridden with --providers-file.

Examples:
  tsaverify providers
  tsaverify providers --providers-file ./providers.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

var providersJSON bool

func init() {
	providersCmd.Flags().BoolVar(&providersJSON, "json", false, "Output as JSON")
}

// providerEntry is the --json form of a registry entry.
type providerEntry struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	URL            string   `json:"url,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	TrustMode      string   `json:"trust_mode"`
	HashAlgorithms []string `json:"hash_algorithms"`
}

func runProviders(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(providersFile, newLogger(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !providersJSON {
		cli.NewPrinter(out).PrintProviders(reg.Profiles())
		return nil
	}

	entries := make([]providerEntry, 0, reg.Len())
	for _, p := range reg.Profiles() {
		e := providerEntry{
			Name:        p.Name,
			DisplayName: p.Title(),
			URL:         p.URL,
			Aliases:     p.Aliases,
			TrustMode:   string(p.Mode),
		}
		for _, alg := range p.Permitted() {
			e.HashAlgorithms = append(e.HashAlgorithms, alg.String())
		}
		entries = append(entries, e)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
