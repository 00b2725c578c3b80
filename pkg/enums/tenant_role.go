package enums

// TenantRole is the dashboard role carried in access tokens.
type TenantRole string

const (
	TenantRoleOwner  TenantRole = "owner"
	TenantRoleAdmin  TenantRole = "admin"
	TenantRoleMember TenantRole = "member"
)

func (r TenantRole) IsValid() bool {
	switch r {
	case TenantRoleOwner, TenantRoleAdmin, TenantRoleMember:
		return true
	default:
		return false
	}
}

// CanManageBilling reports whether the role may change billing settings.
func (r TenantRole) CanManageBilling() bool {
	return r == TenantRoleOwner || r == TenantRoleAdmin
}
