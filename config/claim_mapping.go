package config

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// ClaimMapping maps a local user field to the claim it is populated from.
//
// In the environment it is written as semicolon separated pairs:
//
//	KEYCLOAK_CLAIM_MAPPING="first_name=given_name;email=email"
type ClaimMapping map[string]string

// DefaultClaimMapping returns the standard OIDC profile mapping.
func DefaultClaimMapping() ClaimMapping {
	return ClaimMapping{
		"first_name": "given_name",
		"last_name":  "family_name",
		"email":      "email",
		"username":   "preferred_username",
	}
}

// Decode implements envdecode.Decoder.
func (m *ClaimMapping) Decode(repl string) error {
	out := ClaimMapping{}
	for _, pair := range strings.Split(repl, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		field, claim, ok := strings.Cut(pair, "=")
		field, claim = strings.TrimSpace(field), strings.TrimSpace(claim)
		if !ok || field == "" || claim == "" {
			return fmt.Errorf("%w: claim mapping entry %q must look like field=claim", ErrConfiguration, pair)
		}
		out[field] = claim
	}
	*m = out
	return nil
}

// String renders the mapping in its environment form with sorted fields.
func (m ClaimMapping) String() string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(f + "=" + m[f])
	}
	return b.String()
}

func (m ClaimMapping) Clone() ClaimMapping {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
