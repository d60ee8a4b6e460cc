package auth

import (
	"fmt"

	"go-press/internal/config"
	"go-press/internal/logger"

	"github.com/casbin/casbin/v2"
)

// Roles known to the policy set. Each role inherits the one before it.
const (
	RoleAnonymous = "anonymous"
	RoleEditor    = "editor"
	RoleAdmin     = "admin"
)

// defaultPolicies grant reading to everyone, content changes to editors
// and operational endpoints to admins.
var defaultPolicies = [][]string{
	{RoleAnonymous, "/posts", "GET"},
	{RoleAnonymous, "/posts/:slug", "GET"},
	{RoleAnonymous, "/tags", "GET"},
	{RoleAnonymous, "/search", "GET"},
	{RoleAnonymous, "/sitemap.xml", "GET"},
	{RoleAnonymous, "/robots.txt", "GET"},
	{RoleAnonymous, "/auth/login", "GET"},
	{RoleAnonymous, "/auth/callback", "GET"},
	{RoleAnonymous, "/auth/logout", "POST"},

	{RoleEditor, "/posts", "POST"},
	{RoleEditor, "/posts/:id", "PUT"},
	{RoleEditor, "/posts/:id", "DELETE"},
	{RoleEditor, "/tags/:slug", "DELETE"},

	{RoleAdmin, "/debug/stats", "GET"},
}

// SeedDefaultPolicies ensures that the application has a baseline set of authorization rules.
// It checks if each default policy exists before adding it, making the operation idempotent
// and safe to run on every application start.
func SeedDefaultPolicies(e casbin.IEnforcer, log logger.Logger) error {
	log.Info("Seeding default authorization policies...")

	for _, p := range defaultPolicies {
		if has, _ := e.HasPolicy(p); has {
			continue
		}
		if _, err := e.AddPolicy(p); err != nil {
			return fmt.Errorf("add policy %v: %w", p, err)
		}
	}

	inherits := [][2]string{
		{RoleEditor, RoleAnonymous},
		{RoleAdmin, RoleEditor},
	}
	for _, g := range inherits {
		if has, _ := e.HasRoleForUser(g[0], g[1]); has {
			continue
		}
		if _, err := e.AddRoleForUser(g[0], g[1]); err != nil {
			return fmt.Errorf("add role %s -> %s: %w", g[0], g[1], err)
		}
	}
	log.Info("Policy seeding complete.")
	return nil
}

// GrantRoles assigns the editor and admin roles to the subjects listed in cfg.
func GrantRoles(e casbin.IEnforcer, cfg config.AuthConfig, log logger.Logger) error {
	grant := func(subjects []string, role string) error {
		for _, subject := range subjects {
			if subject == "" {
				continue
			}
			if _, err := e.AddRoleForUser(subject, role); err != nil {
				return fmt.Errorf("grant %s to %s: %w", role, subject, err)
			}
			log.With(map[string]interface{}{"subject": subject, "role": role}).Info("role granted")
		}
		return nil
	}
	if err := grant(cfg.Editors, RoleEditor); err != nil {
		return err
	}
	return grant(cfg.Admins, RoleAdmin)
}
