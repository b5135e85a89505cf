// Package reconcile implements the per-site reconciliation of directory
// state into Tableau Server: users, then groups, then group memberships.
// Desired state comes from the organizational units and groups of the
// directory, observed state from the target site; the engine applies the
// set difference through single idempotent remote calls.
package reconcile

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/directory"
	"github.com/biops-tools/tableau-ad-sync/stringset"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

// Directory is the read-only view over the source of truth.
type Directory interface {
	SyncScopes() ([]string, error)
	SiteGroups(site string) ([]directory.Group, error)
	EnabledGroupMembers(groupDN string) ([]directory.User, error)
}

// Target is the site-scoped read/write view over the target system. The
// implementation holds one mutable session, so calls stay sequential.
type Target interface {
	Sites() ([]tableau.Site, error)
	SwitchSite(site tableau.Site) error

	Users() ([]tableau.User, error)
	UserByID(id string) (*tableau.User, error)
	CreateUser(user tableau.User) (*tableau.User, error)
	UpdateUser(id string, upd tableau.UserUpdate) error
	DeleteUser(id string) error
	UserWorkbooks(userID string) ([]tableau.Workbook, error)

	Groups() ([]tableau.Group, error)
	CreateGroup(name string) (*tableau.Group, error)
	DeleteGroup(id string) error
	GroupMembers(groupID string) ([]tableau.User, error)
	AddGroupMember(groupID, userID string) error
	RemoveGroupMember(groupID, userID string) error
}

type Engine struct {
	directory Directory
	target    Target
	admins    *AdminNotices

	policies        map[string]config.SitePolicy
	serviceAccounts stringset.Set
	// siteFilter narrows the run to one site when set (--site flag).
	siteFilter string

	logger *zap.SugaredLogger
}

func NewEngine(
	cfg *config.SyncConfig,
	dir Directory,
	target Target,
	admins *AdminNotices,
	siteFilter string,
	logger *zap.SugaredLogger,
) *Engine {
	policies := make(map[string]config.SitePolicy)
	for _, policy := range cfg.Sites {
		policies[policy.Name] = policy
	}
	return &Engine{
		directory:       dir,
		target:          target,
		admins:          admins,
		policies:        policies,
		serviceAccounts: stringset.FromSlice(cfg.ServiceAccounts),
		siteFilter:      siteFilter,
		logger:          logger,
	}
}

// Run reconciles every site present both in the target system and in the
// directory. A fault inside one site is contained at the loop boundary: it
// is logged, the run is marked failed and the remaining sites still get
// processed.
func (e *Engine) Run() error {
	e.logger.Info("Start syncing")
	defer e.logger.Info("Finish syncing")

	scopes, err := e.directory.SyncScopes()
	if err != nil {
		return errors.Wrap(err, "failed to resolve sync scopes")
	}
	sites, err := e.target.Sites()
	if err != nil {
		return errors.Wrap(err, "failed to list Tableau sites")
	}

	scopeSet := stringset.FromSlice(scopes)
	var failedSites []string
	for _, site := range sites {
		if !scopeSet.Contains(site.Name) {
			continue
		}
		if e.siteFilter != "" && site.Name != e.siteFilter {
			continue
		}
		if err := e.reconcileSite(site); err != nil {
			failedSites = append(failedSites, site.Name)
			e.logger.Errorw("Site reconciliation failed", zap.Error(err), "site", site.Name)
		}
	}
	if len(failedSites) > 0 {
		return errors.Errorf("failed to reconcile sites: %s", strings.Join(failedSites, ", "))
	}
	return nil
}

func (e *Engine) reconcileSite(site tableau.Site) error {
	policy := e.policies[site.Name]
	logger := e.logger.With("site", site.Name)
	logger.Info("Start reconciling site")
	defer logger.Info("Finish reconciling site")

	if err := e.target.SwitchSite(site); err != nil {
		return err
	}

	groups, err := e.directory.SiteGroups(site.Name)
	if err != nil {
		return err
	}

	// Desired state: per-group member sets plus the site-wide union,
	// deduplicated by account name.
	groupMembers := make(map[string][]directory.User, len(groups))
	desired := make(map[string]directory.User)
	for _, group := range groups {
		members, err := e.directory.EnabledGroupMembers(group.DN)
		if err != nil {
			return err
		}
		groupMembers[group.Name] = members
		for _, member := range members {
			desired[member.AccountName] = member
		}
	}

	if err := e.syncUsers(logger, policy, site.Name, desired); err != nil {
		return err
	}
	if err := e.syncGroups(logger, policy, groups); err != nil {
		return err
	}
	return e.syncMemberships(logger, policy, groupMembers)
}

// protectedGroup reports whether the site policy shields the group from
// pruning and membership sync: such groups are managed outside the
// directory.
func protectedGroup(policy config.SitePolicy, name string) bool {
	for _, prefix := range policy.ProtectedGroupPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
