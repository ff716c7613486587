package artifacts

import _ "embed"

// DefaultConfig is written to a fresh config directory and used when no
// config file exists
//
//go:embed default/config.yaml
var DefaultConfig []byte
