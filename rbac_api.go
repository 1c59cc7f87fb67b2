package permit

import "fmt"

// Role and permission queries built on top of the grouping graphs and the
// policy rows. Domain-aware variants take the domain as a trailing
// argument, matching the grouping-row layout.

// GetRolesForUser lists the roles a user holds directly.
func (e *Enforcer) GetRolesForUser(user string, domains ...string) ([]string, error) {
	rm, ok := e.rmMap[sectionRole]
	if !ok {
		return nil, fmt.Errorf("model has no g definition")
	}
	return rm.GetRoles(user, domains...)
}

// GetUsersForRole lists the direct members of a role.
func (e *Enforcer) GetUsersForRole(role string, domains ...string) ([]string, error) {
	rm, ok := e.rmMap[sectionRole]
	if !ok {
		return nil, fmt.Errorf("model has no g definition")
	}
	return rm.GetUsers(role, domains...)
}

// HasRoleForUser reports whether the user holds the role directly.
func (e *Enforcer) HasRoleForUser(user, role string, domains ...string) (bool, error) {
	roles, err := e.GetRolesForUser(user, domains...)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// AddRoleForUser grants a role by adding a grouping row.
func (e *Enforcer) AddRoleForUser(user, role string, domains ...string) (bool, error) {
	fields := append([]string{user, role}, domains...)
	return e.AddGroupingPolicy(fields...)
}

// DeleteRoleForUser revokes a role by removing its grouping row.
func (e *Enforcer) DeleteRoleForUser(user, role string, domains ...string) (bool, error) {
	fields := append([]string{user, role}, domains...)
	return e.RemoveGroupingPolicy(fields...)
}

// DeleteRolesForUser revokes every role of a user in one domain.
func (e *Enforcer) DeleteRolesForUser(user string, domains ...string) (bool, error) {
	roles, err := e.GetRolesForUser(user, domains...)
	if err != nil {
		return false, err
	}
	removed := false
	for _, role := range roles {
		ok, err := e.DeleteRoleForUser(user, role, domains...)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// GetImplicitRolesForUser lists every role reachable through inheritance,
// across all grouping definitions, breadth first.
func (e *Enforcer) GetImplicitRolesForUser(user string, domains ...string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	frontier := []string{user}
	for len(frontier) > 0 {
		var next []string
		for _, name := range frontier {
			for _, key := range e.model.sectionKeys(sectionRole) {
				rm, ok := e.rmMap[key]
				if !ok {
					continue
				}
				roles, err := rm.GetRoles(name, domains...)
				if err != nil {
					return nil, err
				}
				for _, role := range roles {
					if !seen[role] {
						seen[role] = true
						out = append(out, role)
						next = append(next, role)
					}
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// GetPermissionsForUser lists the policy rows whose subject is exactly the
// user (or one of the optional domain-scoped forms).
func (e *Enforcer) GetPermissionsForUser(user string, domains ...string) [][]string {
	filter := append([]string{user}, domains...)
	return e.GetFilteredPolicy(0, filter...)
}

// GetImplicitPermissionsForUser lists the rows attached to the user or to
// any role the user reaches through inheritance.
func (e *Enforcer) GetImplicitPermissionsForUser(user string, domains ...string) ([][]string, error) {
	subjects := []string{user}
	roles, err := e.GetImplicitRolesForUser(user, domains...)
	if err != nil {
		return nil, err
	}
	subjects = append(subjects, roles...)
	var out [][]string
	for _, sub := range subjects {
		filter := append([]string{sub}, domains...)
		out = append(out, e.GetFilteredPolicy(0, filter...)...)
	}
	return out, nil
}

// GetDomainsForUser lists the domains in which the user appears in the
// grouping graph.
func (e *Enforcer) GetDomainsForUser(user string) ([]string, error) {
	rm, ok := e.rmMap[sectionRole]
	if !ok {
		return nil, fmt.Errorf("model has no g definition")
	}
	return rm.GetDomains(user)
}

// DeletePermissionsForUser removes every policy row whose subject is the
// user.
func (e *Enforcer) DeletePermissionsForUser(user string) (bool, error) {
	return e.RemoveFilteredPolicy(0, user)
}

// DeleteRole removes a role entirely: its grouping rows on both sides and
// the policy rows granted to it.
func (e *Enforcer) DeleteRole(role string) (bool, error) {
	users, err := e.GetUsersForRole(role)
	if err != nil {
		return false, err
	}
	removed := false
	for _, user := range users {
		ok, err := e.DeleteRoleForUser(user, role)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	ok, err := e.RemoveFilteredPolicy(0, role)
	return removed || ok, err
}
