package reconcile

import (
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/directory"
	"github.com/biops-tools/tableau-ad-sync/stringset"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

func (e *Engine) syncGroups(
	logger *zap.SugaredLogger,
	policy config.SitePolicy,
	dirGroups []directory.Group,
) error {
	logger.Info("Start syncing groups")

	targetGroups, err := e.target.Groups()
	if err != nil {
		return err
	}
	targetByName := make(map[string]tableau.Group, len(targetGroups))
	targetNames := stringset.New()
	for _, group := range targetGroups {
		// The built-in all-members group is system managed and never
		// enters a diff.
		if group.Name == tableau.AllUsersGroupName {
			continue
		}
		targetByName[group.Name] = group
		targetNames.Add(group.Name)
	}
	dirNames := stringset.New()
	for _, group := range dirGroups {
		dirNames.Add(group.Name)
	}

	newGroups := dirNames.Difference(targetNames)
	oldGroups := stringset.New()
	for name := range targetNames.Difference(dirNames).Iter() {
		if protectedGroup(policy, name) {
			logger.Debugw("Keeping protected group", "group", name)
			continue
		}
		oldGroups.Add(name)
	}

	var createErrCount, removeErrCount int
	for _, name := range stringset.Sorted(newGroups) {
		logger.Infow("Creating group", "group", name)
		if _, err := e.target.CreateGroup(name); err != nil {
			createErrCount++
			logger.Errorw("failed to create group", zap.Error(err), "group", name)
		}
	}
	for _, name := range stringset.Sorted(oldGroups) {
		logger.Infow("Removing group", "group", name)
		if err := e.target.DeleteGroup(targetByName[name].ID); err != nil {
			removeErrCount++
			logger.Errorw("failed to remove group", zap.Error(err), "group", name)
		}
	}

	logger.Infow("Finish syncing groups",
		"created", newGroups.Cardinality()-createErrCount,
		"create_errors", createErrCount,
		"removed", oldGroups.Cardinality()-removeErrCount,
		"remove_errors", removeErrCount,
	)
	return nil
}

func (e *Engine) syncMemberships(
	logger *zap.SugaredLogger,
	policy config.SitePolicy,
	groupMembers map[string][]directory.User,
) error {
	logger.Info("Start syncing group memberships")

	// Re-list after the group and user phases so freshly created entities
	// carry their server-assigned ids.
	targetGroups, err := e.target.Groups()
	if err != nil {
		return err
	}
	siteUsers, err := e.target.Users()
	if err != nil {
		return err
	}
	userIDByName := make(map[string]string, len(siteUsers))
	for _, user := range siteUsers {
		userIDByName[user.Name] = user.ID
	}

	var added, removed, addErrCount, removeErrCount int
	for _, group := range targetGroups {
		if group.Name == tableau.AllUsersGroupName || protectedGroup(policy, group.Name) {
			continue
		}
		desired, ok := groupMembers[group.Name]
		if !ok {
			logger.Warnw("Group has no directory counterpart, skipping members", "group", group.Name)
			continue
		}

		members, err := e.target.GroupMembers(group.ID)
		if err != nil {
			return err
		}
		memberIDByName := make(map[string]string, len(members))
		memberNames := stringset.New()
		for _, member := range members {
			memberIDByName[member.Name] = member.ID
			memberNames.Add(member.Name)
		}
		desiredNames := stringset.New()
		for _, member := range desired {
			desiredNames.Add(member.AccountName)
		}

		for _, name := range stringset.Sorted(desiredNames.Difference(memberNames)) {
			userID, ok := userIDByName[name]
			if !ok {
				logger.Warnw("Account not found on site, skipping membership", "user", name, "group", group.Name)
				continue
			}
			logger.Infow("Adding group member", "user", name, "group", group.Name)
			if err := e.target.AddGroupMember(group.ID, userID); err != nil {
				addErrCount++
				logger.Errorw("failed to add member", zap.Error(err), "user", name, "group", group.Name)
				continue
			}
			added++
		}
		for _, name := range stringset.Sorted(memberNames.Difference(desiredNames)) {
			logger.Infow("Removing group member", "user", name, "group", group.Name)
			if err := e.target.RemoveGroupMember(group.ID, memberIDByName[name]); err != nil {
				removeErrCount++
				logger.Errorw("failed to remove member", zap.Error(err), "user", name, "group", group.Name)
				continue
			}
			removed++
		}
	}

	logger.Infow("Finish syncing group memberships",
		"added", added,
		"add_errors", addErrCount,
		"removed", removed,
		"remove_errors", removeErrCount,
	)
	return nil
}
