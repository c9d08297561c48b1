package sparql

import (
	"strings"

	"github.com/semweb/searchsync/internal/config"
)

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Literal renders a string as a quoted SPARQL literal.
func Literal(s string) string {
	return `"` + literalEscaper.Replace(s) + `"`
}

// Path renders a property path in SPARQL 1.1 property-path syntax:
// hops joined by "/", inverse hops prefixed with "^".
func Path(path config.PropertyPath) string {
	hops := make([]string, len(path))
	for i, hop := range path {
		if hop.Inverse {
			hops[i] = "^" + IRI(hop.Predicate)
		} else {
			hops[i] = IRI(hop.Predicate)
		}
	}
	return strings.Join(hops, "/")
}

// IRI renders an IRI reference. Angle brackets and whitespace cannot occur
// in a valid IRI; they are stripped rather than escaped so a malicious
// value cannot break out of the reference.
func IRI(s string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\', ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	return "<" + clean + ">"
}
