// Package templates embeds the starter files written by tcexec init.
package templates

import "embed"

//go:embed tcexec.yaml fixtures.yaml bindings.yaml
var FS embed.FS
