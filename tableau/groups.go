package tableau

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Groups lists every group of the active site, the reserved "All Users"
// group included. Callers exclude it from diffs.
func (c *Client) Groups() ([]Group, error) {
	var groups []Group
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("groups?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		groups = append(groups, env.Groups...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list groups")
	}
	c.logger.Debugw("Fetched groups from Tableau", "count", len(groups))
	return groups, nil
}

func (c *Client) CreateGroup(name string) (*Group, error) {
	if c.dryRun {
		c.logger.Debugw("[DRY-RUN] Going to create group", "name", name)
		return &Group{Name: name}, nil
	}
	c.logger.Debugw("Going to create group", "name", name)

	payload := &tsRequest{Group: &groupRequestXML{Name: name}}
	env, err := c.do(http.MethodPost, c.siteURL("groups"), payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create group %s", name)
	}
	if env.Group == nil {
		return nil, errors.Errorf("create-group response for %s carries no group", name)
	}
	return env.Group, nil
}

func (c *Client) DeleteGroup(id string) error {
	logger := c.logger.With("id", id)
	if c.dryRun {
		logger.Debugw("[DRY-RUN] Going to remove group")
		return nil
	}
	logger.Debugw("Going to remove group")

	if _, err := c.do(http.MethodDelete, c.siteURL("groups/"+id), nil); err != nil {
		return errors.Wrapf(err, "failed to remove group %s", id)
	}
	return nil
}

// GroupMembers lists the users of the group.
func (c *Client) GroupMembers(groupID string) ([]User, error) {
	var users []User
	err := c.paged(func(page int) string {
		return c.siteURL(fmt.Sprintf("groups/%s/users?pageSize=%d&pageNumber=%d", groupID, pageSize, page))
	}, func(env *tsResponse) {
		users = append(users, env.Users...)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list members of group %s", groupID)
	}
	return users, nil
}

func (c *Client) AddGroupMember(groupID, userID string) error {
	logger := c.logger.With("group_id", groupID, "user_id", userID)
	if c.dryRun {
		logger.Debugw("[DRY-RUN] Going to add group member")
		return nil
	}
	logger.Debugw("Going to add group member")

	payload := &tsRequest{User: &userRequestXML{ID: userID}}
	if _, err := c.do(http.MethodPost, c.siteURL(fmt.Sprintf("groups/%s/users", groupID)), payload); err != nil {
		return errors.Wrapf(err, "failed to add user %s to group %s", userID, groupID)
	}
	return nil
}

func (c *Client) RemoveGroupMember(groupID, userID string) error {
	logger := c.logger.With("group_id", groupID, "user_id", userID)
	if c.dryRun {
		logger.Debugw("[DRY-RUN] Going to remove group member")
		return nil
	}
	logger.Debugw("Going to remove group member")

	if _, err := c.do(http.MethodDelete, c.siteURL(fmt.Sprintf("groups/%s/users/%s", groupID, userID)), nil); err != nil {
		return errors.Wrapf(err, "failed to remove user %s from group %s", userID, groupID)
	}
	return nil
}
