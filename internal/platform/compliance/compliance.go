// Package compliance loads the legal taxonomy as configuration: capability
// grants beyond the built-in matrix, per-data-class audit modes and payload
// capture, field sensitivity for masking, and the consent types whose
// revocation forces an immediate purge. The engine stays generic; the
// FERPA/COPPA specifics live in this file.
package compliance

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"custos/internal/audit"
	"custos/internal/consent"
	"custos/internal/masking"
	"custos/internal/policy"
	"custos/internal/tenantctx"
)

type capabilityEntry struct {
	Role         string `koanf:"role"`
	ResourceType string `koanf:"resource_type"`
	Action       string `koanf:"action"`
	Rule         string `koanf:"rule"`
	Relationship bool   `koanf:"requires_relationship"`
}

type dataClassEntry struct {
	AuditMode      string `koanf:"audit_mode"`
	CapturePayload bool   `koanf:"capture_payload"`
}

type maskingEntry struct {
	Kind    string `koanf:"kind"`
	MinRole string `koanf:"min_role"`
}

type fileSchema struct {
	Capabilities     []capabilityEntry                  `koanf:"capabilities"`
	DataClasses      map[string]dataClassEntry          `koanf:"data_classes"`
	Masking          map[string]map[string]maskingEntry `koanf:"masking"`
	RevocationPurges map[string][]string                `koanf:"revocation_purges"`
	DefaultKeyGrace  time.Duration                      `koanf:"default_key_grace"`
}

// Settings is the parsed taxonomy, ready to hand to the engine, chain,
// masking layer and retention manager.
type Settings struct {
	Capabilities      []policy.Capability
	AuditModes        map[string]audit.Mode
	PayloadCapture    map[string]bool
	Masking           masking.Classification
	RevocationClasses map[consent.Type][]string
	KeyGrace          time.Duration
}

// Defaults returns the settings used when no taxonomy file is configured.
func Defaults() Settings {
	return Settings{
		AuditModes:     map[string]audit.Mode{"telemetry": audit.ModeBestEffort},
		PayloadCapture: map[string]bool{},
		Masking:        masking.DefaultClassification(),
		RevocationClasses: map[consent.Type][]string{
			consent.TypeMedicalDisclosure: {"medical"},
			consent.TypeDirectoryInfo:     {"directory"},
		},
	}
}

// Load reads the YAML taxonomy at path and merges it over Defaults.
func Load(path string) (Settings, error) {
	settings := Defaults()
	if path == "" {
		return settings, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Settings{}, fmt.Errorf("load compliance config: %w", err)
	}
	var schema fileSchema
	if err := k.Unmarshal("", &schema); err != nil {
		return Settings{}, fmt.Errorf("parse compliance config: %w", err)
	}

	for _, entry := range schema.Capabilities {
		role, err := tenantctx.ParseRole(entry.Role)
		if err != nil {
			return Settings{}, fmt.Errorf("capability %q: %w", entry.Rule, err)
		}
		settings.Capabilities = append(settings.Capabilities, policy.Capability{
			Role:                role,
			ResourceType:        entry.ResourceType,
			Action:              policy.Action(entry.Action),
			Rule:                entry.Rule,
			RequireRelationship: entry.Relationship,
		})
	}

	for class, entry := range schema.DataClasses {
		switch audit.Mode(entry.AuditMode) {
		case audit.ModeRequired, audit.ModeBestEffort:
			settings.AuditModes[class] = audit.Mode(entry.AuditMode)
		case "":
		default:
			return Settings{}, fmt.Errorf("data class %q: unknown audit mode %q", class, entry.AuditMode)
		}
		if entry.CapturePayload {
			settings.PayloadCapture[class] = true
		}
	}

	for resourceType, fields := range schema.Masking {
		if settings.Masking[resourceType] == nil {
			settings.Masking[resourceType] = make(map[string]masking.Rule)
		}
		for field, entry := range fields {
			role, err := tenantctx.ParseRole(entry.MinRole)
			if err != nil {
				return Settings{}, fmt.Errorf("masking %s.%s: %w", resourceType, field, err)
			}
			settings.Masking[resourceType][field] = masking.Rule{
				Kind:    masking.Kind(entry.Kind),
				MinRole: role,
			}
		}
	}

	if len(schema.RevocationPurges) > 0 {
		settings.RevocationClasses = make(map[consent.Type][]string, len(schema.RevocationPurges))
		for typ, classes := range schema.RevocationPurges {
			settings.RevocationClasses[consent.Type(typ)] = classes
		}
	}
	if schema.DefaultKeyGrace > 0 {
		settings.KeyGrace = schema.DefaultKeyGrace
	}
	return settings, nil
}
