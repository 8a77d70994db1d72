// Package providers provides the embedded table of known timestamping
// authorities.
//
// The table is compiled into the binary. Users can extend or override it
// with their own file in the same format (--providers-file).
package providers

import "embed"

// FS contains the embedded provider YAML files.
//
//go:embed *.yaml
var FS embed.FS

// Builtin is the name of the built-in provider table inside FS.
const Builtin = "builtin.yaml"
