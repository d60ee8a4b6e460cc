package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/util"
)

// modelText is the RBAC model with path wildcards: p rules name a role,
// a keyMatch2 path pattern and a method; g rules assign roles.
const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && r.act == p.act
`

// NewEnforcer creates an in-memory Casbin enforcer for the route policies.
// Policies are not persisted; SeedDefaultPolicies and GrantRoles rebuild
// them on every start.
func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("auth: parse model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("auth: create enforcer: %w", err)
	}

	// keyMatch2 lets "/posts/:slug" match "/posts/hello-world".
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)

	return enforcer, nil
}
