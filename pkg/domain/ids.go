package domain

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "custos/pkg/domain-errors"
)

// Typed UUID identifiers. Distinct types keep a TenantID from ever being
// passed where a UserID is expected; the isolation checks in the policy
// engine rely on this.
type (
	TenantID   uuid.UUID
	UserID     uuid.UUID
	SubjectID  uuid.UUID
	SessionID  uuid.UUID
	ResourceID uuid.UUID
	KeyID      uuid.UUID
)

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id ResourceID) String() string { return uuid.UUID(id).String() }
func (id KeyID) String() string      { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ResourceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id KeyID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func NewTenantID() TenantID     { return TenantID(uuid.New()) }
func NewUserID() UserID         { return UserID(uuid.New()) }
func NewSubjectID() SubjectID   { return SubjectID(uuid.New()) }
func NewSessionID() SessionID   { return SessionID(uuid.New()) }
func NewResourceID() ResourceID { return ResourceID(uuid.New()) }
func NewKeyID() KeyID           { return KeyID(uuid.New()) }

// maxIDLength bounds parser input before uuid.Parse sees it. A canonical
// UUID is 36 characters; anything much longer is garbage or an attack.
const maxIDLength = 64

// parseUUID enforces the shared parsing invariant: IDs must be valid,
// non-empty, non-nil UUIDs. All ParseXxxID functions funnel through here
// so trust-boundary validation stays in one place.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInvalidInput, kind+" must not be empty")
	}
	if len(raw) > maxIDLength {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInvalidInput, kind+" exceeds maximum length")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInvalidInput, kind+" is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return parsed, nil
}

func ParseTenantID(raw string) (TenantID, error) {
	parsed, err := parseUUID(raw, "tenant id")
	return TenantID(parsed), err
}

func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseUUID(raw, "user id")
	return UserID(parsed), err
}

func ParseSubjectID(raw string) (SubjectID, error) {
	parsed, err := parseUUID(raw, "subject id")
	return SubjectID(parsed), err
}

func ParseSessionID(raw string) (SessionID, error) {
	parsed, err := parseUUID(raw, "session id")
	return SessionID(parsed), err
}

func ParseResourceID(raw string) (ResourceID, error) {
	parsed, err := parseUUID(raw, "resource id")
	return ResourceID(parsed), err
}

func ParseKeyID(raw string) (KeyID, error) {
	parsed, err := parseUUID(raw, "key id")
	return KeyID(parsed), err
}
