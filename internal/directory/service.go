// Package directory answers the provider, organization and project listings
// behind the console's filter dropdowns. Providers come from the IdP group
// tree; organizations and projects come from the device ledger.
package directory

import (
	"context"
	"strings"

	"streaming-status/backend/internal/auth"
	devicedomain "streaming-status/backend/internal/device/domain"
	"streaming-status/backend/internal/device/repository"
)

// Lister is the slice of the device ledger the directory reads.
type Lister interface {
	ListOrganizations(ctx context.Context, provider string) ([]string, error)
	ListProjects(ctx context.Context, scope repository.Scope) ([]string, error)
}

// GroupsAPI pages through IdP groups for unscoped provider listings.
type GroupsAPI interface {
	Groups(ctx context.Context, nameLike string, page, pageSize int) (names []string, nextPage *int, err error)
}

// Service resolves directory listings within the caller's scope.
type Service struct {
	ledger   Lister
	groups   GroupsAPI
	pageSize int
}

// NewService returns a Service. groups may be nil; admins then fall back to
// their own group memberships like everyone else.
func NewService(ledger Lister, groups GroupsAPI, pageSize int) *Service {
	return &Service{ledger: ledger, groups: groups, pageSize: pageSize}
}

// ProvidersPage is one page of provider names. NextPage is set only for
// admin listings, which page through the IdP group tree.
type ProvidersPage struct {
	Providers []string `json:"providers"`
	NextPage  *int     `json:"nextPage,omitempty"`
}

// Providers lists provider names matching nameLike. Admins see the full IdP
// group tree; everyone else sees only their own memberships.
func (s *Service) Providers(ctx context.Context, p *auth.Principal, nameLike string, page int) (*ProvidersPage, error) {
	if err := auth.RequirePermission(p, auth.PermissionProvidersRead); err != nil {
		return nil, err
	}

	if p.Admin && s.groups != nil {
		names, nextPage, err := s.groups.Groups(ctx, nameLike, page, s.pageSize)
		if err != nil {
			return nil, err
		}
		if names == nil {
			names = []string{}
		}
		return &ProvidersPage{Providers: names, NextPage: nextPage}, nil
	}

	names := []string{}
	for _, group := range p.Groups {
		if strings.Contains(group, nameLike) {
			names = append(names, group)
		}
	}
	return &ProvidersPage{Providers: names}, nil
}

// Organizations lists the distinct organizations in the caller's provider
// scope, filtered by nameLike.
func (s *Service) Organizations(ctx context.Context, p *auth.Principal, nameLike string) ([]string, error) {
	if err := auth.RequirePermission(p, auth.PermissionOrganizationsRead); err != nil {
		return nil, err
	}
	orgs, err := s.ledger.ListOrganizations(ctx, devicedomain.CanonicalName(p.Provider))
	if err != nil {
		return nil, err
	}
	return filterContains(orgs, nameLike), nil
}

// Projects lists the distinct projects in the caller's provider/organization
// scope, filtered by nameLike.
func (s *Service) Projects(ctx context.Context, p *auth.Principal, nameLike string) ([]string, error) {
	if err := auth.RequirePermission(p, auth.PermissionOrganizationsRead); err != nil {
		return nil, err
	}
	scope := repository.Scope{
		Provider:     devicedomain.CanonicalName(p.Provider),
		Organization: devicedomain.CanonicalName(p.Organization),
	}
	projects, err := s.ledger.ListProjects(ctx, scope)
	if err != nil {
		return nil, err
	}
	return filterContains(projects, nameLike), nil
}

func filterContains(values []string, substring string) []string {
	if substring == "" {
		if values == nil {
			return []string{}
		}
		return values
	}
	filtered := []string{}
	for _, v := range values {
		if strings.Contains(v, substring) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}
