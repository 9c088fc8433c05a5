package policy

import (
	"context"

	"custos/internal/tenantctx"
	pkgerrors "custos/pkg/domain-errors"
)

// Resource type tags the default matrix knows about. The business layer owns
// the full vocabulary; these are the types the compliance core ships grants
// for. ResourceAny matches any type not listed explicitly.
const (
	ResourceAny           = "*"
	ResourceStudent       = "student"
	ResourceGrade         = "grade"
	ResourceAttendance    = "attendance"
	ResourceClass         = "class"
	ResourceMedicalRecord = "medical_record"
	ResourcePaymentMethod = "payment_method"
	ResourceConsent       = "consent"
	ResourceAuditLog      = "audit_log"
)

// defaultMatrix is the built-in role->capability matrix. Deployments extend
// or override it through the compliance configuration file; entries here are
// the conservative baseline.
//
// Conventions: staff roles (Admin) get broad in-tenant access; Teacher,
// Counselor and Parent get relationship-gated reads on subject data; Student
// reads only records about themselves (expressed as a relationship predicate
// against SubjectID); System gets the retention transitions and nothing else.
var defaultMatrix = []Capability{
	// Admin: full in-tenant record management, plus the compliance surfaces.
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceAny, Action: ActionRead, Rule: "admin_read_all"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceAny, Action: ActionCreate, Rule: "admin_write_all"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceAny, Action: ActionUpdate, Rule: "admin_write_all"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceAny, Action: ActionDelete, Rule: "admin_delete_all"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceAuditLog, Action: ActionRead, Rule: "admin_audit_read"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceMedicalRecord, Action: ActionReveal, Rule: "admin_medical_reveal"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourcePaymentMethod, Action: ActionReveal, Rule: "admin_payment_reveal"},
	{Role: tenantctx.RoleAdmin, ResourceType: ResourceStudent, Action: ActionReveal, Rule: "admin_identity_reveal"},

	// Teacher: enrollment-gated access to their students' academic records.
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceStudent, Action: ActionRead, Rule: "teacher_roster_read", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceGrade, Action: ActionRead, Rule: "teacher_grade_read", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceGrade, Action: ActionCreate, Rule: "teacher_grade_write", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceGrade, Action: ActionUpdate, Rule: "teacher_grade_write", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceAttendance, Action: ActionRead, Rule: "teacher_attendance_read", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceAttendance, Action: ActionCreate, Rule: "teacher_attendance_write", RequireRelationship: true},
	{Role: tenantctx.RoleTeacher, ResourceType: ResourceClass, Action: ActionRead, Rule: "teacher_class_read"},

	// Counselor: like a teacher but additionally consent-gated medical reads.
	{Role: tenantctx.RoleCounselor, ResourceType: ResourceStudent, Action: ActionRead, Rule: "counselor_student_read", RequireRelationship: true},
	{Role: tenantctx.RoleCounselor, ResourceType: ResourceGrade, Action: ActionRead, Rule: "counselor_grade_read", RequireRelationship: true},
	{Role: tenantctx.RoleCounselor, ResourceType: ResourceMedicalRecord, Action: ActionRead, Rule: "counselor_medical_read", RequireRelationship: true},
	{Role: tenantctx.RoleCounselor, ResourceType: ResourceMedicalRecord, Action: ActionReveal, Rule: "counselor_medical_reveal", RequireRelationship: true},

	// Parent: consent-gated reads on their child's records.
	{Role: tenantctx.RoleParent, ResourceType: ResourceStudent, Action: ActionRead, Rule: "parent_student_read", RequireRelationship: true},
	{Role: tenantctx.RoleParent, ResourceType: ResourceGrade, Action: ActionRead, Rule: "parent_grade_read", RequireRelationship: true},
	{Role: tenantctx.RoleParent, ResourceType: ResourceAttendance, Action: ActionRead, Rule: "parent_attendance_read", RequireRelationship: true},

	// Student: self-only reads, expressed through the subject predicate.
	{Role: tenantctx.RoleStudent, ResourceType: ResourceStudent, Action: ActionRead, Rule: "student_self_read", RequireRelationship: true},
	{Role: tenantctx.RoleStudent, ResourceType: ResourceGrade, Action: ActionRead, Rule: "student_self_grade_read", RequireRelationship: true},
	{Role: tenantctx.RoleStudent, ResourceType: ResourceAttendance, Action: ActionRead, Rule: "student_self_attendance_read", RequireRelationship: true},

	// System: retention lifecycle transitions only.
	{Role: tenantctx.RoleSystem, ResourceType: ResourceAny, Action: ActionArchive, Rule: "system_retention"},
	{Role: tenantctx.RoleSystem, ResourceType: ResourceAny, Action: ActionAnonymize, Rule: "system_retention"},
	{Role: tenantctx.RoleSystem, ResourceType: ResourceAny, Action: ActionPurge, Rule: "system_retention"},
}

// SelfSubject is the predicate for Student self-access: the record's subject
// must be the caller.
func SelfSubject() RelationshipPredicate {
	return func(_ context.Context, tc tenantctx.Context, resource ResourceDescriptor) error {
		if resource.SubjectID.String() == tc.UserID.String() {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeRoleInsufficient, "record subject is not the caller")
	}
}
