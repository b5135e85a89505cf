// Package prune sweeps permission grants of denylisted principals off the
// active site's resource hierarchy: projects with their default permission
// templates, then workbooks and data sources. Workbooks and data sources
// can be exempted per resource through a configured tag; projects cannot.
package prune

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

// Grant categories a denylist entry may be restricted to.
const (
	CategoryProject    = "project"
	CategoryWorkbook   = "workbook"
	CategoryDatasource = "datasource"
)

// Target is the part of the Tableau client the pruner uses.
type Target interface {
	Sites() ([]tableau.Site, error)
	SwitchSite(site tableau.Site) error
	Users() ([]tableau.User, error)
	Groups() ([]tableau.Group, error)

	Projects() ([]tableau.Project, error)
	Workbooks() ([]tableau.Workbook, error)
	Datasources() ([]tableau.Datasource, error)

	ProjectPermissions(projectID string) ([]tableau.GranteeCapabilities, error)
	ProjectDefaultPermissions(projectID, kind string) ([]tableau.GranteeCapabilities, error)
	WorkbookPermissions(workbookID string) ([]tableau.GranteeCapabilities, error)
	DatasourcePermissions(datasourceID string) ([]tableau.GranteeCapabilities, error)

	DeleteProjectPermission(projectID, principalKind, principalID string, cap tableau.Capability) error
	DeleteProjectDefaultPermission(projectID, kind, principalKind, principalID string, cap tableau.Capability) error
	DeleteWorkbookPermission(workbookID, principalKind, principalID string, cap tableau.Capability) error
	DeleteDatasourcePermission(datasourceID, principalKind, principalID string, cap tableau.Capability) error
}

type Pruner struct {
	target   Target
	policies map[string]config.SiteCleanupPolicy
	logger   *zap.SugaredLogger
}

func NewPruner(cfg *config.CleanupConfig, target Target, logger *zap.SugaredLogger) *Pruner {
	policies := make(map[string]config.SiteCleanupPolicy)
	for _, policy := range cfg.Sites {
		policies[policy.Site] = policy
	}
	return &Pruner{
		target:   target,
		policies: policies,
		logger:   logger,
	}
}

// Run sweeps every configured site. Sites without a cleanup policy are
// skipped; a fault inside one site is logged and the remaining sites still
// get swept.
func (p *Pruner) Run() error {
	p.logger.Info("Start permission sweep")
	defer p.logger.Info("Finish permission sweep")

	sites, err := p.target.Sites()
	if err != nil {
		return errors.Wrap(err, "failed to list Tableau sites")
	}

	var failedSites []string
	for _, site := range sites {
		policy, ok := p.policies[site.Name]
		if !ok {
			continue
		}
		if err := p.pruneSite(site, policy); err != nil {
			failedSites = append(failedSites, site.Name)
			p.logger.Errorw("Site sweep failed", zap.Error(err), "site", site.Name)
		}
	}
	if len(failedSites) > 0 {
		return errors.Errorf("failed to sweep sites: %s", strings.Join(failedSites, ", "))
	}
	return nil
}

// denyEntry is a denylist record with the principal resolved to its id on
// the active site.
type denyEntry struct {
	config.DenyPrincipal
	kind string
	id   string
}

func (e denyEntry) appliesTo(category string) bool {
	if len(e.Categories) == 0 {
		return true
	}
	for _, c := range e.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func (p *Pruner) pruneSite(site tableau.Site, policy config.SiteCleanupPolicy) error {
	logger := p.logger.With("site", site.Name)
	logger.Info("Start sweeping site")
	defer logger.Info("Finish sweeping site")

	if err := p.target.SwitchSite(site); err != nil {
		return err
	}

	deny, err := p.resolveDeny(logger, policy)
	if err != nil {
		return err
	}
	if len(deny) == 0 {
		logger.Info("No denylisted principals resolved, nothing to sweep")
		return nil
	}

	if err := p.pruneProjects(logger, deny); err != nil {
		return err
	}
	if err := p.pruneWorkbooks(logger, deny); err != nil {
		return err
	}
	return p.pruneDatasources(logger, deny)
}

// resolveDeny maps configured principal names to their ids on the active
// site. An explicitly configured id wins; a name that resolves nowhere is
// logged and dropped from the sweep.
func (p *Pruner) resolveDeny(logger *zap.SugaredLogger, policy config.SiteCleanupPolicy) ([]denyEntry, error) {
	var groups []tableau.Group
	var users []tableau.User
	var err error

	var deny []denyEntry
	for _, principal := range policy.Deny {
		if principal.ID != "" {
			kind := principal.Type
			if kind == "" {
				kind = tableau.PrincipalGroup
			}
			deny = append(deny, denyEntry{DenyPrincipal: principal, kind: kind, id: principal.ID})
			continue
		}

		if principal.Type != tableau.PrincipalUser {
			if groups == nil {
				if groups, err = p.target.Groups(); err != nil {
					return nil, err
				}
			}
			if id := groupIDByName(groups, principal.Name); id != "" {
				deny = append(deny, denyEntry{DenyPrincipal: principal, kind: tableau.PrincipalGroup, id: id})
				continue
			}
		}
		if principal.Type != tableau.PrincipalGroup {
			if users == nil {
				if users, err = p.target.Users(); err != nil {
					return nil, err
				}
			}
			if id := userIDByName(users, principal.Name); id != "" {
				deny = append(deny, denyEntry{DenyPrincipal: principal, kind: tableau.PrincipalUser, id: id})
				continue
			}
		}
		logger.Warnw("Denylisted principal not found on site, skipping", "principal", principal.Name)
	}
	return deny, nil
}

func groupIDByName(groups []tableau.Group, name string) string {
	for _, group := range groups {
		if group.Name == name {
			return group.ID
		}
	}
	return ""
}

func userIDByName(users []tableau.User, name string) string {
	for _, user := range users {
		if user.Name == name {
			return user.ID
		}
	}
	return ""
}

// pruneProjects walks the project tree parent before child and strips the
// denylisted grants from each project's explicit permissions and from every
// default permission template. No tag exemption applies to projects.
func (p *Pruner) pruneProjects(logger *zap.SugaredLogger, deny []denyEntry) error {
	projects, err := p.target.Projects()
	if err != nil {
		return err
	}
	for _, project := range parentFirst(projects) {
		projectLogger := logger.With("project", project.Name)

		grants, err := p.target.ProjectPermissions(project.ID)
		if err != nil {
			projectLogger.Errorw("failed to read project permissions, skipping", zap.Error(err))
			continue
		}
		p.removeMatching(projectLogger, grants, deny, CategoryProject, nil, func(kind, id string, cap tableau.Capability) error {
			return p.target.DeleteProjectPermission(project.ID, kind, id, cap)
		})

		for _, templateKind := range tableau.DefaultPermissionKinds {
			kind := templateKind
			grants, err := p.target.ProjectDefaultPermissions(project.ID, kind)
			if err != nil {
				projectLogger.Errorw("failed to read default permissions, skipping", zap.Error(err), "kind", kind)
				continue
			}
			p.removeMatching(projectLogger.With("kind", kind), grants, deny, CategoryProject, nil, func(principalKind, id string, cap tableau.Capability) error {
				return p.target.DeleteProjectDefaultPermission(project.ID, kind, principalKind, id, cap)
			})
		}
	}
	return nil
}

func (p *Pruner) pruneWorkbooks(logger *zap.SugaredLogger, deny []denyEntry) error {
	workbooks, err := p.target.Workbooks()
	if err != nil {
		return err
	}
	for _, workbook := range workbooks {
		wb := workbook
		wbLogger := logger.With("workbook", wb.Name)
		grants, err := p.target.WorkbookPermissions(wb.ID)
		if err != nil {
			wbLogger.Errorw("failed to read workbook permissions, skipping", zap.Error(err))
			continue
		}
		p.removeMatching(wbLogger, grants, deny, CategoryWorkbook, wb.HasTag, func(kind, id string, cap tableau.Capability) error {
			return p.target.DeleteWorkbookPermission(wb.ID, kind, id, cap)
		})
	}
	return nil
}

func (p *Pruner) pruneDatasources(logger *zap.SugaredLogger, deny []denyEntry) error {
	datasources, err := p.target.Datasources()
	if err != nil {
		return err
	}
	for _, datasource := range datasources {
		ds := datasource
		dsLogger := logger.With("datasource", ds.Name)
		grants, err := p.target.DatasourcePermissions(ds.ID)
		if err != nil {
			dsLogger.Errorw("failed to read datasource permissions, skipping", zap.Error(err))
			continue
		}
		p.removeMatching(dsLogger, grants, deny, CategoryDatasource, ds.HasTag, func(kind, id string, cap tableau.Capability) error {
			return p.target.DeleteDatasourcePermission(ds.ID, kind, id, cap)
		})
	}
	return nil
}

// removeMatching deletes, capability by capability, every grant whose
// principal is denylisted for the category. hasTag is nil for resources
// that cannot be exempted.
func (p *Pruner) removeMatching(
	logger *zap.SugaredLogger,
	grants []tableau.GranteeCapabilities,
	deny []denyEntry,
	category string,
	hasTag func(label string) bool,
	remove func(principalKind, principalID string, cap tableau.Capability) error,
) {
	for _, grant := range grants {
		kind, id := grant.Principal()
		for _, entry := range deny {
			if entry.id != id || entry.kind != kind || !entry.appliesTo(category) {
				continue
			}
			if entry.ExemptTag != "" && hasTag != nil && hasTag(entry.ExemptTag) {
				logger.Infow("Keeping grant, resource carries the exemption tag",
					"principal", entry.Name,
					"tag", entry.ExemptTag,
				)
				continue
			}
			for _, cap := range grant.Capabilities {
				if err := remove(kind, id, cap); err != nil {
					logger.Errorw("failed to remove grant capability", zap.Error(err),
						"principal", entry.Name,
						"capability", cap.Name,
					)
				}
			}
		}
	}
}
