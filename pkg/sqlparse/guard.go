package sqlparse

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionFinding describes a parameter value that looks like a SQL
// injection payload.
type InjectionFinding struct {
	Position    int    // zero-based parameter position
	Fingerprint string // libinjection fingerprint
	Value       string
}

// CheckParams screens positional parameter values for SQL injection
// payloads. Only string values are screened; numbers, booleans and other
// driver types carry no injectable syntax.
func CheckParams(params ...any) []InjectionFinding {
	var findings []InjectionFinding
	for i, p := range params {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(s); isSQLi {
			findings = append(findings, InjectionFinding{
				Position:    i,
				Fingerprint: string(fingerprint),
				Value:       s,
			})
		}
	}
	return findings
}
