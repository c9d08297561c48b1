// Package configs provides embedded configuration templates.
//
// The templates are embedded at build time so 'searchsync config init' can
// scaffold a deployment from any distribution of the binary.
package configs

import _ "embed"

// ConfigExample is the annotated runtime configuration template.
//
//go:embed config.example.yaml
var ConfigExample []byte

// TypesExample is the annotated type-definition template.
//
//go:embed types.example.yaml
var TypesExample []byte
