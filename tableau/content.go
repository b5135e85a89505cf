package tableau

import (
	"fmt"

	"github.com/pkg/errors"
)

// Projects lists every project of the active site, nested sub-projects
// included; nesting is expressed by ParentProjectID.
func (c *Client) Projects() ([]Project, error) {
	var projects []Project
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("projects?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		projects = append(projects, env.Projects...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list projects")
	}
	c.logger.Debugw("Fetched projects from Tableau", "count", len(projects))
	return projects, nil
}

func (c *Client) Workbooks() ([]Workbook, error) {
	var workbooks []Workbook
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("workbooks?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		workbooks = append(workbooks, env.Workbooks...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list workbooks")
	}
	c.logger.Debugw("Fetched workbooks from Tableau", "count", len(workbooks))
	return workbooks, nil
}

func (c *Client) Datasources() ([]Datasource, error) {
	var datasources []Datasource
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("datasources?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		datasources = append(datasources, env.Datasources...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list datasources")
	}
	c.logger.Debugw("Fetched datasources from Tableau", "count", len(datasources))
	return datasources, nil
}
