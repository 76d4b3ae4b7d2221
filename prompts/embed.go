package prompts

import _ "embed"

//go:embed discovery.md
var DiscoveryGuidance string

//go:embed convergence.md
var ConvergenceGuidance string
