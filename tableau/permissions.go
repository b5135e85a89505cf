package tableau

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// DefaultPermissionKinds are the per-resource-kind default permission
// templates a project carries. New resources created under the project
// inherit the matching template.
var DefaultPermissionKinds = []string{
	"dataroles",
	"datasources",
	"flows",
	"lenses",
	"metrics",
	"workbooks",
}

func (c *Client) ProjectPermissions(projectID string) ([]GranteeCapabilities, error) {
	return c.permissions("projects/" + projectID)
}

// ProjectDefaultPermissions reads the project's default permission template
// for one resource kind out of DefaultPermissionKinds.
func (c *Client) ProjectDefaultPermissions(projectID, kind string) ([]GranteeCapabilities, error) {
	return c.permissions(fmt.Sprintf("projects/%s/default-permissions/%s", projectID, kind))
}

func (c *Client) WorkbookPermissions(workbookID string) ([]GranteeCapabilities, error) {
	return c.permissions("workbooks/" + workbookID)
}

func (c *Client) DatasourcePermissions(datasourceID string) ([]GranteeCapabilities, error) {
	return c.permissions("datasources/" + datasourceID)
}

// DeleteProjectPermission removes one capability of the principal's grant on
// the project. A full grant is removed capability by capability.
func (c *Client) DeleteProjectPermission(projectID, principalKind, principalID string, cap Capability) error {
	return c.deletePermission("projects/"+projectID, principalKind, principalID, cap)
}

func (c *Client) DeleteProjectDefaultPermission(projectID, kind, principalKind, principalID string, cap Capability) error {
	return c.deletePermission(fmt.Sprintf("projects/%s/default-permissions/%s", projectID, kind), principalKind, principalID, cap)
}

func (c *Client) DeleteWorkbookPermission(workbookID, principalKind, principalID string, cap Capability) error {
	return c.deletePermission("workbooks/"+workbookID, principalKind, principalID, cap)
}

func (c *Client) DeleteDatasourcePermission(datasourceID, principalKind, principalID string, cap Capability) error {
	return c.deletePermission("datasources/"+datasourceID, principalKind, principalID, cap)
}

func (c *Client) permissions(resourcePath string) ([]GranteeCapabilities, error) {
	env, err := c.do(http.MethodGet, c.siteURL(resourcePath+"/permissions"), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read permissions of %s", resourcePath)
	}
	if env.Permissions == nil {
		return nil, nil
	}
	return env.Permissions.GranteeCapabilities, nil
}

func (c *Client) deletePermission(resourcePath, principalKind, principalID string, cap Capability) error {
	logger := c.logger.With(
		"resource", resourcePath,
		"principal_kind", principalKind,
		"principal_id", principalID,
		"capability", cap.Name,
		"mode", cap.Mode,
	)
	if c.dryRun {
		logger.Infow("[DRY-RUN] Going to remove permission grant")
		return nil
	}
	logger.Infow("Going to remove permission grant")

	url := c.siteURL(fmt.Sprintf("%s/permissions/%ss/%s/%s/%s", resourcePath, principalKind, principalID, cap.Name, cap.Mode))
	if _, err := c.do(http.MethodDelete, url, nil); err != nil {
		return errors.Wrapf(err, "failed to remove %s grant of %s %s on %s", cap.Name, principalKind, principalID, resourcePath)
	}
	return nil
}
