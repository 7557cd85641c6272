// internal/models/types.go
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStandard      Role = "standard"
	RoleAdministrator Role = "administrator"
)

func (r Role) Valid() bool {
	return r == RoleStandard || r == RoleAdministrator
}

type Tier string

const (
	TierFree         Tier = "free"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// ProviderMode is fixed for the lifetime of the process.
type ProviderMode string

const (
	ModeRemote    ProviderMode = "remote"
	ModeSimulated ProviderMode = "simulated"
)

// Identity is the authenticated principal held by the session resolver.
type Identity struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"name"`
	Organization string `json:"company,omitempty"`
	Role         Role   `json:"role"`
	Tier         Tier   `json:"plan"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdministrator
}

// Profile is the provider-side profile record keyed by account ID.
type Profile struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"name"`
	Organization string    `json:"company,omitempty"`
	Role         Role      `json:"role"`
	Tier         Tier      `json:"plan"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionHandle describes an existing provider session.
type SessionHandle struct {
	AccountID string
	Email     string
	ExpiresAt time.Time
}

// ProfileFields holds the client-writable profile columns. Nil means unchanged.
type ProfileFields struct {
	DisplayName  *string `json:"name,omitempty"`
	Organization *string `json:"company,omitempty"`
}

func (f ProfileFields) Empty() bool {
	return f.DisplayName == nil && f.Organization == nil
}

// IdentityFromProfile builds an Identity from a profile row; the session email wins when set.
func IdentityFromProfile(p Profile, sessionEmail string) Identity {
	email := p.Email
	if sessionEmail != "" {
		email = sessionEmail
	}
	role := p.Role
	if !role.Valid() {
		role = RoleStandard
	}
	tier := p.Tier
	if !tier.Valid() {
		tier = TierFree
	}
	return Identity{
		ID:           p.ID,
		Email:        email,
		DisplayName:  p.DisplayName,
		Organization: p.Organization,
		Role:         role,
		Tier:         tier,
	}
}

// ProfileFromIdentity is the inverse of IdentityFromProfile, without timestamps.
func ProfileFromIdentity(i Identity) Profile {
	return Profile{
		ID:           i.ID,
		Email:        i.Email,
		DisplayName:  i.DisplayName,
		Organization: i.Organization,
		Role:         i.Role,
		Tier:         i.Tier,
	}
}

// MergeFields applies only the mutable fields; id, email, role and tier never change here.
func (i Identity) MergeFields(f ProfileFields) Identity {
	if f.DisplayName != nil {
		i.DisplayName = *f.DisplayName
	}
	if f.Organization != nil {
		i.Organization = *f.Organization
	}
	return i
}

const (
	DemoDisplayName  = "Utilisateur Demo"
	DemoOrganization = "OptiQuantIA"
)

// DemoIdentity returns the same identity for the same demo email on every call.
func DemoIdentity(email string) Identity {
	email = NormalizeEmail(email)
	return Identity{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte("optiquantia:demo:"+email)).String(),
		Email:        email,
		DisplayName:  DemoDisplayName,
		Organization: DemoOrganization,
		Role:         RoleStandard,
		Tier:         TierFree,
	}
}

func NewLocalIdentity(email, name, organization string) Identity {
	return Identity{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(email),
		DisplayName:  name,
		Organization: organization,
		Role:         RoleStandard,
		Tier:         TierFree,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
