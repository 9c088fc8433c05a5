package masking

import "custos/internal/tenantctx"

// DefaultClassification is the built-in field sensitivity table. Deployments
// override or extend it through the compliance configuration file.
func DefaultClassification() Classification {
	return Classification{
		"student": {
			"email":           {Kind: KindEmail, MinRole: tenantctx.RoleTeacher},
			"guardian_email":  {Kind: KindEmail, MinRole: tenantctx.RoleCounselor},
			"phone":           {Kind: KindPhone, MinRole: tenantctx.RoleTeacher},
			"guardian_phone":  {Kind: KindPhone, MinRole: tenantctx.RoleCounselor},
			"legal_name":      {Kind: KindName, MinRole: tenantctx.RoleTeacher},
			"ssn":             {Kind: KindIdentifier, MinRole: tenantctx.RoleAdmin},
			"student_number":  {Kind: KindIdentifier, MinRole: tenantctx.RoleTeacher},
			"home_address":    {Kind: KindIdentifier, MinRole: tenantctx.RoleCounselor},
		},
		"medical_record": {
			"provider_name":  {Kind: KindName, MinRole: tenantctx.RoleCounselor},
			"provider_phone": {Kind: KindPhone, MinRole: tenantctx.RoleCounselor},
			"diagnosis_code": {Kind: KindIdentifier, MinRole: tenantctx.RoleCounselor},
		},
		"payment_method": {
			"account_number": {Kind: KindIdentifier, MinRole: tenantctx.RoleAdmin},
			"holder_name":    {Kind: KindName, MinRole: tenantctx.RoleAdmin},
			"billing_phone":  {Kind: KindPhone, MinRole: tenantctx.RoleAdmin},
		},
	}
}
