package compliance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custos/internal/audit"
	"custos/internal/consent"
	"custos/internal/masking"
	"custos/internal/policy"
	"custos/internal/tenantctx"
)

func writeTaxonomy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compliance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	settings := Defaults()

	assert.Empty(t, settings.Capabilities)
	assert.Equal(t, audit.ModeBestEffort, settings.AuditModes["telemetry"])
	assert.NotEmpty(t, settings.Masking["student"])
	assert.Equal(t, []string{"medical"}, settings.RevocationClasses[consent.TypeMedicalDisclosure])
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	settings, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), settings)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := writeTaxonomy(t, `
capabilities:
  - role: teacher
    resource_type: attendance
    action: delete
    rule: teacher_attendance_correction
    requires_relationship: true

data_classes:
  medical:
    audit_mode: required
    capture_payload: true
  telemetry:
    audit_mode: best_effort

masking:
  student:
    preferred_name:
      kind: name
      min_role: teacher

revocation_purges:
  medical_disclosure: [medical, counseling_notes]

default_key_grace: 72h
`)

	settings, err := Load(path)
	require.NoError(t, err)

	require.Len(t, settings.Capabilities, 1)
	assert.Equal(t, policy.Capability{
		Role:                tenantctx.RoleTeacher,
		ResourceType:        "attendance",
		Action:              policy.ActionDelete,
		Rule:                "teacher_attendance_correction",
		RequireRelationship: true,
	}, settings.Capabilities[0])

	assert.Equal(t, audit.ModeRequired, settings.AuditModes["medical"])
	assert.True(t, settings.PayloadCapture["medical"])
	assert.False(t, settings.PayloadCapture["telemetry"])

	rule, ok := settings.Masking["student"]["preferred_name"]
	require.True(t, ok)
	assert.Equal(t, masking.Rule{Kind: masking.KindName, MinRole: tenantctx.RoleTeacher}, rule)
	// Built-in entries survive the merge.
	assert.NotEmpty(t, settings.Masking["student"]["ssn"])

	assert.Equal(t, []string{"medical", "counseling_notes"}, settings.RevocationClasses[consent.TypeMedicalDisclosure])
	assert.Equal(t, 72*time.Hour, settings.KeyGrace)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown capability role", func(t *testing.T) {
		path := writeTaxonomy(t, `
capabilities:
  - role: janitor
    resource_type: student
    action: read
    rule: janitor_read
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "janitor_read")
	})

	t.Run("unknown audit mode", func(t *testing.T) {
		path := writeTaxonomy(t, `
data_classes:
  medical:
    audit_mode: eventually
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown audit mode")
	})

	t.Run("unknown masking role", func(t *testing.T) {
		path := writeTaxonomy(t, `
masking:
  student:
    nickname:
      kind: name
      min_role: janitor
`)
		_, err := Load(path)
		assert.ErrorContains(t, err, "student.nickname")
	})
}
