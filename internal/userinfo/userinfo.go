// Package userinfo resolves subject ids to user profiles through the user directory.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/metrics"
)

const (
	usersPath          = "/api/user-management/v1/users/"
	profileFields      = "name,email,roles,frozen,priority,created_at"
	accessorRolesPath  = "/api/authorization/v1/accessor-roles"
	maxDirectoryBody   = 1 << 20
	operationProfile   = "user_profile"
	operationRoleCheck = "role_assignment"
)

// Profile is the user as stored in the session and returned to the console
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Frozen    bool     `json:"frozen"`
	Priority  int      `json:"priority"`
	CreatedAt int64    `json:"created_at"`
}

// RoleMap translates directory role names into role ids
type RoleMap map[string]string

// Remap returns the ids of the known names in input order and the names it dropped.
func (m RoleMap) Remap(names []string) (ids []string, unknown []string) {
	ids = make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := m[name]; ok {
			ids = append(ids, id)
		} else {
			unknown = append(unknown, name)
		}
	}
	return ids, unknown
}

// Names lists the mapped role names, sorted
func (m RoleMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Directory queries the user directory service
type Directory struct {
	client  *http.Client
	roles   RoleMap
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewDirectory creates a directory client
func NewDirectory(client *http.Client, roles RoleMap, log logger.Logger, m *metrics.Metrics) *Directory {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NoOp()
	}
	return &Directory{client: client, roles: roles, logger: log, metrics: m}
}

type directoryUser struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Frozen    bool     `json:"frozen"`
	Priority  int      `json:"priority"`
	CreatedAt int64    `json:"created_at"`
}

// Resolve fetches the profile of subject. An empty result set is USER_NOT_FOUND.
func (d *Directory) Resolve(ctx context.Context, cfg *discovery.ServiceConfig, subject string) (_ *Profile, err error) {
	defer func(start time.Time) { d.metrics.ObserveUpstream(operationProfile, start, err) }(time.Now())

	target := cfg.UserDirectory.URL(usersPath + url.PathEscape(subject) + "/" + profileFields)
	var users []directoryUser
	if err := d.get(ctx, target, operationProfile, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, gwerrors.NewUserNotFound(subject)
	}

	u := users[0]
	ids, unknown := d.roles.Remap(u.Roles)
	if len(unknown) > 0 {
		d.logger.Debugf("Dropped unmapped roles %v for user %s", unknown, subject)
	}
	id := u.ID
	if id == "" {
		id = subject
	}
	return &Profile{
		ID:        id,
		Name:      u.Name,
		Email:     u.Email,
		Roles:     ids,
		Frozen:    u.Frozen,
		Priority:  u.Priority,
		CreatedAt: u.CreatedAt,
	}, nil
}

// HasRoleAssignment reports whether any role is assigned to subject.
func (d *Directory) HasRoleAssignment(ctx context.Context, cfg *discovery.ServiceConfig, subject string) (_ bool, err error) {
	defer func(start time.Time) { d.metrics.ObserveUpstream(operationRoleCheck, start, err) }(time.Now())

	query := url.Values{}
	query.Set("accessor_id", subject)
	var assignments []json.RawMessage
	if err := d.get(ctx, cfg.UserDirectory.URL(accessorRolesPath)+"?"+query.Encode(), operationRoleCheck, &assignments); err != nil {
		return false, err
	}
	return len(assignments) > 0, nil
}

func (d *Directory) get(ctx context.Context, target, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return gwerrors.NewTransportError(operation, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return gwerrors.NewTransportError(operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectoryBody))
	if err != nil {
		return gwerrors.NewTransportError(operation, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gwerrors.NewUpstreamAuthError(operation, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return gwerrors.NewMalformedResponse(operation, resp.StatusCode, body, err)
	}
	return nil
}
