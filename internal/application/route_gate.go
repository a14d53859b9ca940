package application

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// Landing routes per role family.
const (
	DashboardRoute  = "/dashboard"
	BackOfficeRoute = "/saas"
)

type accessKind int

const (
	accessPublic accessKind = iota + 1
	accessGuestOnly
	accessAnyAuthenticated
	accessRoles
)

// Access describes who may render a route.
type Access struct {
	kind  accessKind
	roles map[Role]struct{}
}

// Public routes render for everyone.
func Public() Access { return Access{kind: accessPublic} }

// GuestOnly routes render for signed-out users; signed-in users are sent to
// their landing route.
func GuestOnly() Access { return Access{kind: accessGuestOnly} }

// AnyAuthenticated routes render for every signed-in user.
func AnyAuthenticated() Access { return Access{kind: accessAnyAuthenticated} }

// AllowRoles restricts a route to the listed roles.
func AllowRoles(roles ...Role) Access {
	set := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return Access{kind: accessRoles, roles: set}
}

// Allows reports whether role satisfies a role restricted access.
func (a Access) Allows(role Role) bool {
	_, ok := a.roles[role]
	return ok
}

// RouteRule maps a path pattern to its access rule. Patterns are exact
// ("/payroll") or subtrees ("/payroll/*", which also matches "/payroll").
type RouteRule struct {
	Pattern string
	Access  Access
}

type subtreeRule struct {
	base string
	rule RouteRule
}

// RoutePolicy is a compiled, immutable route table.
type RoutePolicy struct {
	exact    map[string]RouteRule
	subtrees []subtreeRule
}

// NewRoutePolicy compiles rules. It rejects malformed or duplicate patterns,
// unknown roles and empty role sets.
func NewRoutePolicy(rules ...RouteRule) (*RoutePolicy, error) {
	policy := &RoutePolicy{exact: make(map[string]RouteRule)}
	seen := make(map[string]struct{}, len(rules))

	for _, rule := range rules {
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" || !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("%w: pattern %q must start with /", ErrInvalidPolicy, rule.Pattern)
		}
		if _, dup := seen[pattern]; dup {
			return nil, fmt.Errorf("%w: duplicate pattern %q", ErrInvalidPolicy, pattern)
		}
		seen[pattern] = struct{}{}

		switch rule.Access.kind {
		case accessPublic, accessGuestOnly, accessAnyAuthenticated:
		case accessRoles:
			if len(rule.Access.roles) == 0 {
				return nil, fmt.Errorf("%w: pattern %q has an empty role set", ErrInvalidPolicy, pattern)
			}
			for role := range rule.Access.roles {
				if !role.Valid() {
					return nil, fmt.Errorf("%w: pattern %q names unknown role %q", ErrInvalidPolicy, pattern, role)
				}
			}
		default:
			return nil, fmt.Errorf("%w: pattern %q has no access rule", ErrInvalidPolicy, pattern)
		}
		rule.Pattern = pattern

		if base, ok := strings.CutSuffix(pattern, "/*"); ok {
			if strings.Contains(base, "*") {
				return nil, fmt.Errorf("%w: pattern %q may only end with /*", ErrInvalidPolicy, pattern)
			}
			policy.subtrees = append(policy.subtrees, subtreeRule{base: base, rule: rule})
			continue
		}
		if strings.Contains(pattern, "*") {
			return nil, fmt.Errorf("%w: pattern %q may only end with /*", ErrInvalidPolicy, pattern)
		}
		policy.exact[normalizePath(pattern)] = rule
	}

	sort.SliceStable(policy.subtrees, func(i, j int) bool {
		return len(policy.subtrees[i].base) > len(policy.subtrees[j].base)
	})
	return policy, nil
}

// MustRoutePolicy is NewRoutePolicy for static tables.
func MustRoutePolicy(rules ...RouteRule) *RoutePolicy {
	policy, err := NewRoutePolicy(rules...)
	if err != nil {
		panic(err)
	}
	return policy
}

// Match returns the rule governing p: an exact entry, else the deepest subtree.
func (p *RoutePolicy) Match(requested string) (RouteRule, bool) {
	if p == nil {
		return RouteRule{}, false
	}
	clean := normalizePath(requested)
	if rule, ok := p.exact[clean]; ok {
		return rule, true
	}
	for _, subtree := range p.subtrees {
		if subtree.base == "" || clean == subtree.base || strings.HasPrefix(clean, subtree.base+"/") {
			return subtree.rule, true
		}
	}
	return RouteRule{}, false
}

// DefaultRoutePolicy is the product's route table.
func DefaultRoutePolicy() *RoutePolicy {
	return MustRoutePolicy(
		RouteRule{Pattern: "/login", Access: GuestOnly()},
		RouteRule{Pattern: "/register", Access: GuestOnly()},
		RouteRule{Pattern: "/forgot-password", Access: GuestOnly()},
		RouteRule{Pattern: "/maintenance", Access: Public()},
		RouteRule{Pattern: "/dashboard", Access: AnyAuthenticated()},
		RouteRule{Pattern: "/profile", Access: AnyAuthenticated()},
		RouteRule{Pattern: "/employees/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager)},
		RouteRule{Pattern: "/attendance/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager, RoleEmploye)},
		RouteRule{Pattern: "/leaves/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager, RoleEmploye)},
		RouteRule{Pattern: "/leaves/approvals", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager)},
		RouteRule{Pattern: "/payroll/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleOwner)},
		RouteRule{Pattern: "/payslips/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager, RoleEmploye)},
		RouteRule{Pattern: "/documents/*", Access: AllowRoles(RoleAdmin, RoleRH, RoleManager, RoleEmploye)},
		RouteRule{Pattern: "/exports/*", Access: AllowRoles(RoleAdmin, RoleRH)},
		RouteRule{Pattern: "/settings/*", Access: AllowRoles(RoleAdmin, RoleOwner)},
		RouteRule{Pattern: "/subscription", Access: AllowRoles(RoleAdmin)},
		RouteRule{Pattern: "/saas/*", Access: AllowRoles(RoleOwner)},
	)
}

// LandingRoute is where a signed-in user with role lands by default.
func LandingRoute(role Role) string {
	if role == RoleOwner {
		return BackOfficeRoute
	}
	return DashboardRoute
}

// LoginLocation builds the login URL remembering returnTo.
func LoginLocation(returnTo string) string {
	if returnTo == "" || returnTo == LoginRoute {
		return LoginRoute
	}
	return LoginRoute + "?" + url.Values{"next": {returnTo}}.Encode()
}

// Action is the outcome of a navigation decision.
type Action string

const (
	ActionRender   Action = "render"
	ActionRedirect Action = "redirect"
	ActionLoading  Action = "loading"
)

// Decision tells the shell what to do with a navigation.
type Decision struct {
	Action   Action
	Location string
	ReturnTo string
}

// RouteGate decides render versus redirect for each navigation. It only
// reads the session it is given.
type RouteGate struct {
	policy *RoutePolicy
}

// NewRouteGate returns a gate over policy, or the default table when nil.
func NewRouteGate(policy *RoutePolicy) *RouteGate {
	if policy == nil {
		policy = DefaultRoutePolicy()
	}
	return &RouteGate{policy: policy}
}

// Decide evaluates requested for session. Until ready is true (boot restore
// finished) every navigation yields ActionLoading.
func (g *RouteGate) Decide(requested string, session Session, ready bool) Decision {
	if !ready {
		return Decision{Action: ActionLoading}
	}

	target := normalizePath(requested)
	rule, matched := g.policy.Match(target)

	if matched {
		switch rule.Access.kind {
		case accessPublic:
			return Decision{Action: ActionRender, Location: target}
		case accessGuestOnly:
			if session.IsAuthenticated() {
				return Decision{Action: ActionRedirect, Location: LandingRoute(session.Role())}
			}
			return Decision{Action: ActionRender, Location: target}
		}
	}

	if !session.IsAuthenticated() {
		return Decision{Action: ActionRedirect, Location: LoginLocation(target), ReturnTo: target}
	}

	landing := LandingRoute(session.Role())
	if !matched {
		return Decision{Action: ActionRedirect, Location: landing}
	}
	if rule.Access.kind == accessRoles && !rule.Access.Allows(session.Role()) {
		return Decision{Action: ActionRedirect, Location: landing}
	}
	return Decision{Action: ActionRender, Location: target}
}

func normalizePath(requested string) string {
	if i := strings.IndexAny(requested, "?#"); i >= 0 {
		requested = requested[:i]
	}
	if requested == "" {
		return "/"
	}
	if !strings.HasPrefix(requested, "/") {
		requested = "/" + requested
	}
	return path.Clean(requested)
}
