package registration

import (
	"sort"
	"strings"

	"github.com/europython/discord-bot/internal/models"
)

// RoleMapper resolves Discord role names from ticket item and variation
// names. The tables are fixed at startup; lookups are case-insensitive.
type RoleMapper struct {
	itemToRoles      map[string][]string
	variationToRoles map[string][]string
}

// NewRoleMapper builds a mapper from the configured tables.
func NewRoleMapper(itemToRoles, variationToRoles map[string][]string) *RoleMapper {
	return &RoleMapper{
		itemToRoles:      lowerKeys(itemToRoles),
		variationToRoles: lowerKeys(variationToRoles),
	}
}

// Resolve returns the union of roles granted by the tickets, without
// duplicates, in sorted order.
func (m *RoleMapper) Resolve(tickets []models.Ticket) []string {
	seen := make(map[string]struct{})
	for _, ticket := range tickets {
		for _, role := range m.itemToRoles[strings.ToLower(ticket.Item)] {
			seen[role] = struct{}{}
		}
		if ticket.Variation != "" {
			for _, role := range m.variationToRoles[strings.ToLower(ticket.Variation)] {
				seen[role] = struct{}{}
			}
		}
	}

	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func lowerKeys(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
