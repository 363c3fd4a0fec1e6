// Package auth derives the caller identity and permission set for each request.
package auth

import "slices"

// Permission is a typed capability granted through IdP client roles.
type Permission string

const (
	// PermissionProvidersRead allows listing providers and selecting any provider scope.
	PermissionProvidersRead Permission = "providers_read"
	// PermissionOrganizationsRead allows listing organizations/projects and selecting any organization scope.
	PermissionOrganizationsRead Permission = "organizations_read"
	// PermissionDevicesCreate allows reading the schema registry used during device onboarding.
	PermissionDevicesCreate Permission = "devices_create"
	// PermissionDevicesUpdate allows changing device custom labels.
	PermissionDevicesUpdate Permission = "devices_update"
	// PermissionAlarmsSubscribe allows managing alarm notification subscriptions.
	PermissionAlarmsSubscribe Permission = "alarms_subscribe"
)

// RoleProvider marks provider (vendor) accounts. It scopes queries to the
// account's groups rather than granting a permission.
const RoleProvider = "provider"

// AllPermissions returns every permission the API understands, in stable order.
func AllPermissions() []Permission {
	return []Permission{
		PermissionProvidersRead,
		PermissionOrganizationsRead,
		PermissionDevicesCreate,
		PermissionDevicesUpdate,
		PermissionAlarmsSubscribe,
	}
}

func parsePermission(role string) (Permission, bool) {
	switch p := Permission(role); p {
	case PermissionProvidersRead,
		PermissionOrganizationsRead,
		PermissionDevicesCreate,
		PermissionDevicesUpdate,
		PermissionAlarmsSubscribe:
		return p, true
	}
	return "", false
}

// Principal is the resolved caller identity for a single request.
// Built from token claims or the offline override; never persisted.
type Principal struct {
	Subject string
	Name    string
	Email   string
	// Groups are the caller's IdP group memberships (provider or organization names).
	Groups []string
	// Admin is true when the caller holds the configured admin role; admins see every scope.
	Admin bool
	// ProviderAccount is true when the caller holds the provider marker role.
	ProviderAccount bool
	// Provider is the resolved provider scope. Empty means unscoped.
	Provider string
	// Organization is the resolved organization scope. Empty means unscoped.
	Organization string
	Permissions  []Permission
}

// Has reports whether the principal holds the given permission.
func (p *Principal) Has(perm Permission) bool {
	return p != nil && slices.Contains(p.Permissions, perm)
}

// InGroup reports whether name is one of the principal's group memberships.
func (p *Principal) InGroup(name string) bool {
	return p != nil && slices.Contains(p.Groups, name)
}
