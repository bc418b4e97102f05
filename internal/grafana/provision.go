package grafana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

// org is a single entry of the /api/orgs response.
type org struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type orgUser struct {
	UserID int64  `json:"userId"`
	Login  string `json:"login"`
	Role   string `json:"role"`
}

type datasource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type createdResponse struct {
	ID    int64 `json:"id"`
	OrgID int64 `json:"orgId"`
}

// EnsureOrgs makes the configured organizations, their members and their
// datasources exist, creating whatever is missing. Existing objects are left
// untouched, so the operation is idempotent. User passwords are looked up in
// resolved variables via each user's passwordVar.
func (c *Client) EnsureOrgs(ctx context.Context, specs []config.GrafanaOrg, resolved vars.Vars, logger *slog.Logger) error {
	var existing []org
	if err := c.get(ctx, "api/orgs", requestOptions{}, &existing); err != nil {
		return fmt.Errorf("list orgs: %w", err)
	}
	byName := make(map[string]int64, len(existing))
	for _, o := range existing {
		byName[o.Name] = o.ID
	}

	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return fmt.Errorf("org with empty name in grafana provisioning config")
		}

		orgID, ok := byName[name]
		if !ok {
			var created createdResponse
			if err := c.post(ctx, "api/orgs", map[string]string{"name": name}, requestOptions{}, &created); err != nil {
				return fmt.Errorf("create org %q: %w", name, err)
			}
			orgID = created.OrgID
			if orgID == 0 {
				orgID = created.ID
			}
			logger.Info("created grafana org", "org", name, "id", orgID)
		}

		if err := c.ensureOrgUsers(ctx, orgID, spec, resolved, logger); err != nil {
			return err
		}
		if err := c.ensureOrgDatasources(ctx, orgID, spec, logger); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureOrgUsers(ctx context.Context, orgID int64, spec config.GrafanaOrg, resolved vars.Vars, logger *slog.Logger) error {
	var members []orgUser
	if err := c.get(ctx, fmt.Sprintf("api/orgs/%d/users", orgID), requestOptions{}, &members); err != nil {
		return fmt.Errorf("list users of org %q: %w", spec.Name, err)
	}
	present := make(map[string]struct{}, len(members))
	for _, m := range members {
		present[m.Login] = struct{}{}
	}

	for _, u := range spec.Users {
		login := strings.TrimSpace(u.Login)
		if login == "" {
			return fmt.Errorf("user with empty login in org %q", spec.Name)
		}
		if _, ok := present[login]; ok {
			continue
		}

		email := u.Email
		if email == "" {
			email = login
		}
		role := u.Role
		if role == "" {
			role = "Viewer"
		}

		password := ""
		if u.PasswordVar != "" {
			val, ok := resolved.String(u.PasswordVar)
			if !ok || val == "" {
				return fmt.Errorf("user %q in org %q: password variable %q is not defined", login, spec.Name, u.PasswordVar)
			}
			password = val
		}

		// Grafana requires a global user before org membership can be granted.
		if err := c.post(ctx, "api/admin/users", map[string]any{
			"login":    login,
			"email":    email,
			"name":     login,
			"password": password,
		}, requestOptions{}, nil); err != nil {
			if !isConflict(err) {
				return fmt.Errorf("create user %q: %w", login, err)
			}
		}

		if err := c.post(ctx, fmt.Sprintf("api/orgs/%d/users", orgID), map[string]string{
			"loginOrEmail": login,
			"role":         role,
		}, requestOptions{}, nil); err != nil {
			if !isConflict(err) {
				return fmt.Errorf("add user %q to org %q: %w", login, spec.Name, err)
			}
		}
		logger.Info("ensured grafana user", "org", spec.Name, "user", login, "role", role)
	}
	return nil
}

func (c *Client) ensureOrgDatasources(ctx context.Context, orgID int64, spec config.GrafanaOrg, logger *slog.Logger) error {
	var existing []datasource
	if err := c.get(ctx, "api/datasources", requestOptions{orgID: orgID}, &existing); err != nil {
		return fmt.Errorf("list datasources of org %q: %w", spec.Name, err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, ds := range existing {
		present[ds.Name] = struct{}{}
	}

	for _, ds := range spec.Datasources {
		name := strings.TrimSpace(ds.Name)
		if name == "" {
			return fmt.Errorf("datasource with empty name in org %q", spec.Name)
		}
		if _, ok := present[name]; ok {
			continue
		}

		access := ds.Access
		if access == "" {
			access = "proxy"
		}
		if err := c.post(ctx, "api/datasources", map[string]any{
			"name":      name,
			"type":      ds.Type,
			"url":       ds.URL,
			"access":    access,
			"isDefault": ds.IsDefault,
		}, requestOptions{orgID: orgID}, nil); err != nil {
			if !isConflict(err) {
				return fmt.Errorf("create datasource %q in org %q: %w", name, spec.Name, err)
			}
		}
		logger.Info("ensured grafana datasource", "org", spec.Name, "datasource", name)
	}
	return nil
}

// isConflict reports whether an API error indicates the object already exists.
func isConflict(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 409 || apiErr.StatusCode == 412
}
