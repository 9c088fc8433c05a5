// Package masking derives partially redacted views of sensitive fields for
// callers who may read a record but sit below its sensitive-field threshold.
// Maskers are pure, deterministic and idempotent; the mask pattern is the
// only structure a masked value reveals.
package masking

import (
	"strings"
	"unicode"

	"custos/internal/tenantctx"
)

// Kind selects the masker applied to a field.
type Kind string

const (
	KindEmail      Kind = "email"
	KindPhone      Kind = "phone"
	KindName       Kind = "name"
	KindIdentifier Kind = "identifier"
)

// redaction is the fixed run of asterisks every masker emits, so masked
// output never reflects the original value's length.
const redaction = "***"

// identifierRedaction is the full fixed-length redaction for opaque
// identifiers (SSNs, student numbers, account numbers).
const identifierRedaction = "********"

// Mask applies the masker for kind. Unknown kinds fall through to the
// identifier redaction, the most conservative option.
func Mask(kind Kind, value string) string {
	if value == "" {
		return ""
	}
	switch kind {
	case KindEmail:
		return maskEmail(value)
	case KindPhone:
		return maskPhone(value)
	case KindName:
		return maskName(value)
	default:
		return identifierRedaction
	}
}

// maskEmail keeps the first rune of the local part, the first rune of the
// domain, and the final domain label: "jane.doe@example.com" becomes
// "j***@e***.com". Values without an "@" are treated as identifiers.
func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return identifierRedaction
	}
	local, domain := value[:at], value[at+1:]
	maskedLocal := string([]rune(local)[0]) + redaction

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return maskedLocal + "@" + string([]rune(domain)[0]) + redaction
	}
	tld := domain[dot+1:]
	return maskedLocal + "@" + string([]rune(domain)[0]) + redaction + "." + tld
}

// maskPhone keeps the last four digits: "+1 (555) 867-5309" becomes
// "***-***-5309". Fewer than four digits redacts entirely.
func maskPhone(value string) string {
	var digits []rune
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) < 4 {
		return identifierRedaction
	}
	return "***-***-" + string(digits[len(digits)-4:])
}

// maskName keeps the first rune of each word: "Jane Doe" becomes
// "J*** D***".
func maskName(value string) string {
	words := strings.Fields(value)
	if len(words) == 0 {
		return redaction
	}
	masked := make([]string, len(words))
	for i, w := range words {
		masked[i] = string([]rune(w)[0]) + redaction
	}
	return strings.Join(masked, " ")
}

// Rule classifies one field of one resource type: which masker applies and
// the least role that sees the raw value.
type Rule struct {
	Kind    Kind
	MinRole tenantctx.Role
}

type fieldKey struct {
	resourceType string
	field        string
}

// Layer holds the per-resource field classification. Safe for concurrent
// use; the classification is read-only after construction.
type Layer struct {
	rules map[fieldKey]Rule
}

// Classification maps resource type to field name to rule, the shape the
// compliance configuration file loads into.
type Classification map[string]map[string]Rule

func NewLayer(classification Classification) *Layer {
	rules := make(map[fieldKey]Rule)
	for resourceType, fields := range classification {
		for field, rule := range fields {
			rules[fieldKey{resourceType, field}] = rule
		}
	}
	return &Layer{rules: rules}
}

// roleRank orders roles for threshold comparison. System ranks with Admin:
// retention jobs read records without triggering field masking.
var roleRank = map[tenantctx.Role]int{
	tenantctx.RoleStudent:    0,
	tenantctx.RoleParent:     1,
	tenantctx.RoleTeacher:    2,
	tenantctx.RoleCounselor:  3,
	tenantctx.RoleAdmin:      4,
	tenantctx.RoleSystem:     4,
	tenantctx.RoleSuperAdmin: 5,
}

// Visible reports whether role meets or exceeds the threshold for the
// field. Fields with no rule are visible to any caller the policy engine
// already admitted.
func (l *Layer) Visible(role tenantctx.Role, resourceType, field string) bool {
	rule, ok := l.rules[fieldKey{resourceType, field}]
	if !ok {
		return true
	}
	return roleRank[role] >= roleRank[rule.MinRole]
}

// Field masks a single value for the caller's role. It returns the raw
// value when the role clears the field's threshold or the field carries no
// classification.
func (l *Layer) Field(tc tenantctx.Context, resourceType, field, value string) string {
	rule, ok := l.rules[fieldKey{resourceType, field}]
	if !ok || roleRank[tc.Role] >= roleRank[rule.MinRole] {
		return value
	}
	return Mask(rule.Kind, value)
}

// Record masks every classified field of a record in place of a copy. The
// input map is not mutated.
func (l *Layer) Record(tc tenantctx.Context, resourceType string, record map[string]string) map[string]string {
	out := make(map[string]string, len(record))
	for field, value := range record {
		out[field] = l.Field(tc, resourceType, field, value)
	}
	return out
}
