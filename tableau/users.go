package tableau

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Users lists every user of the active site.
func (c *Client) Users() ([]User, error) {
	var users []User
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("users?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		users = append(users, env.Users...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	c.logger.Debugw("Fetched users from Tableau", "count", len(users))
	return users, nil
}

// UserByID fetches the user detail record, which carries the attributes the
// listing omits.
func (c *Client) UserByID(id string) (*User, error) {
	env, err := c.do(http.MethodGet, c.siteURL("users/"+id), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user %s", id)
	}
	if env.User == nil {
		return nil, errors.Errorf("user response for %s carries no user", id)
	}
	return env.User, nil
}

// CreateUser adds the user to the active site. Only the name and site role
// are accepted at creation time; other attributes go through UpdateUser.
func (c *Client) CreateUser(user User) (*User, error) {
	if c.dryRun {
		c.logger.Debugw("[DRY-RUN] Going to create user", "name", user.Name, "site_role", user.SiteRole)
		return &user, nil
	}
	c.logger.Debugw("Going to create user", "name", user.Name, "site_role", user.SiteRole)

	payload := &tsRequest{User: &userRequestXML{
		Name:     user.Name,
		SiteRole: string(user.SiteRole),
	}}
	env, err := c.do(http.MethodPost, c.siteURL("users"), payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create user %s", user.Name)
	}
	if env.User == nil {
		return nil, errors.Errorf("create-user response for %s carries no user", user.Name)
	}
	return env.User, nil
}

// UpdateUser changes the given attributes; zero fields stay untouched. The
// password never appears in logs.
func (c *Client) UpdateUser(id string, upd UserUpdate) error {
	logger := c.logger.With(
		"id", id,
		"full_name", upd.FullName,
		"email", upd.Email,
		"site_role", upd.SiteRole,
	)
	if c.dryRun {
		logger.Debugw("[DRY-RUN] Going to update user")
		return nil
	}
	logger.Debugw("Going to update user")

	payload := &tsRequest{User: &userRequestXML{
		FullName: upd.FullName,
		Email:    upd.Email,
		Password: upd.Password,
		SiteRole: string(upd.SiteRole),
	}}
	if _, err := c.do(http.MethodPut, c.siteURL("users/"+id), payload); err != nil {
		return errors.Wrapf(err, "failed to update user %s", id)
	}
	return nil
}

func (c *Client) DeleteUser(id string) error {
	logger := c.logger.With("id", id)
	if c.dryRun {
		logger.Debugw("[DRY-RUN] Going to remove user")
		return nil
	}
	logger.Debugw("Going to remove user")

	if _, err := c.do(http.MethodDelete, c.siteURL("users/"+id), nil); err != nil {
		return errors.Wrapf(err, "failed to remove user %s", id)
	}
	return nil
}

// UserWorkbooks lists the workbooks visible to the user; callers check the
// owner reference to count the owned ones.
func (c *Client) UserWorkbooks(userID string) ([]Workbook, error) {
	var workbooks []Workbook
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("users/%s/workbooks?pageSize=%d&pageNumber=%d", userID, pageSize, page))
	}, func(env *tsResponse) {
		workbooks = append(workbooks, env.Workbooks...)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list workbooks of user %s", userID)
	}
	return workbooks, nil
}
