package reconcile

import (
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/directory"
	"github.com/biops-tools/tableau-ad-sync/stringset"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

func (e *Engine) syncUsers(
	logger *zap.SugaredLogger,
	policy config.SitePolicy,
	siteName string,
	desired map[string]directory.User,
) error {
	logger.Info("Start syncing users")

	targetUsers, err := e.target.Users()
	if err != nil {
		return err
	}
	// Unlicensed accounts stay out of the diff on both sides: they are
	// never retired again, and a directory user parked as Unlicensed must
	// land in fresh so admitUser promotes the existing record.
	targetByName := make(map[string]tableau.User, len(targetUsers))
	licensedNames := stringset.New()
	for _, user := range targetUsers {
		targetByName[user.Name] = user
		if user.SiteRole != tableau.SiteRoleUnlicensed {
			licensedNames.Add(user.Name)
		}
	}
	desiredNames := stringset.New()
	for name := range desired {
		desiredNames.Add(name)
	}

	stale := licensedNames.Difference(desiredNames).Difference(e.serviceAccounts)
	fresh := desiredNames.Difference(licensedNames).Difference(e.serviceAccounts)
	if policy.KeepUnmatchedUsers && stale.Cardinality() > 0 {
		logger.Infow("Keeping unmatched users per site policy", "count", stale.Cardinality())
		stale = stringset.New()
	}

	var retireErrCount, admitErrCount int
	for _, name := range stringset.Sorted(stale) {
		if err := e.retireUser(logger, siteName, targetByName[name]); err != nil {
			retireErrCount++
			logger.Errorw("failed to retire user", zap.Error(err), "user", name)
		}
	}
	for _, name := range stringset.Sorted(fresh) {
		if err := e.admitUser(logger, desired[name], targetByName); err != nil {
			admitErrCount++
			logger.Errorw("failed to admit user", zap.Error(err), "user", name)
		}
	}

	updated, updateErrCount, err := e.syncUserAttributes(logger, desired)
	if err != nil {
		return err
	}

	logger.Infow("Finish syncing users",
		"retired", stale.Cardinality()-retireErrCount,
		"retire_errors", retireErrCount,
		"admitted", fresh.Cardinality()-admitErrCount,
		"admit_errors", admitErrCount,
		"updated", updated,
		"update_errors", updateErrCount,
	)
	return nil
}

// retireUser handles one target user the directory no longer knows. Server
// administrators are never deleted or demoted; they get a rate-limited
// manual-review notice instead. Content owners are demoted so their
// workbooks keep an owner; everyone else is deleted, tolerating users the
// server already removed behind a stale listing.
func (e *Engine) retireUser(logger *zap.SugaredLogger, siteName string, user tableau.User) error {
	if user.SiteRole == tableau.SiteRoleServerAdministrator {
		if e.admins == nil {
			logger.Warnw("Unmatched server administrator needs manual review", "user", user.Name)
			return nil
		}
		return e.admins.Notify(siteName, user)
	}

	workbooks, err := e.target.UserWorkbooks(user.ID)
	if err != nil {
		return err
	}
	owned := 0
	for _, workbook := range workbooks {
		if workbook.Owner.ID == user.ID {
			owned++
		}
	}
	if owned > 0 {
		logger.Infow("Demoting user owning content", "user", user.Name, "owned_workbooks", owned)
		return e.target.UpdateUser(user.ID, tableau.UserUpdate{SiteRole: tableau.SiteRoleUnlicensed})
	}

	logger.Infow("Removing user", "user", user.Name)
	err = e.target.DeleteUser(user.ID)
	if tableau.IsAlreadyAbsent(err) {
		logger.Debugw("User already removed", "user", user.Name)
		return nil
	}
	return err
}

// admitUser brings one directory user onto the site. An existing unlicensed
// account with the same name is promoted instead of re-created, which the
// server would reject as a duplicate. New accounts get a throwaway random
// password; real authentication happens against the directory.
func (e *Engine) admitUser(
	logger *zap.SugaredLogger,
	dirUser directory.User,
	targetByName map[string]tableau.User,
) error {
	if existing, ok := targetByName[dirUser.AccountName]; ok {
		if existing.SiteRole == tableau.SiteRoleUnlicensed {
			logger.Infow("Promoting existing unlicensed user", "user", dirUser.AccountName)
			return e.target.UpdateUser(existing.ID, tableau.UserUpdate{SiteRole: tableau.SiteRoleInteractor})
		}
		logger.Debugw("User already present with a license", "user", dirUser.AccountName, "site_role", existing.SiteRole)
		return nil
	}

	logger.Infow("Creating user", "user", dirUser.AccountName)
	created, err := e.target.CreateUser(tableau.User{
		Name:     dirUser.AccountName,
		SiteRole: tableau.SiteRoleInteractor,
	})
	if err != nil {
		return err
	}
	password, err := randomPassword()
	if err != nil {
		return err
	}
	return e.target.UpdateUser(created.ID, tableau.UserUpdate{
		FullName: dirUser.DisplayName,
		Email:    dirUser.Email,
		Password: password,
	})
}

// syncUserAttributes re-reads each licensed, non-service account and aligns
// its full name and email with the directory. A fault on one user's detail
// is logged and that user skipped: stale listings routinely reference users
// a previous step already removed.
func (e *Engine) syncUserAttributes(
	logger *zap.SugaredLogger,
	desired map[string]directory.User,
) (updated, updateErrCount int, err error) {
	users, err := e.target.Users()
	if err != nil {
		return 0, 0, err
	}
	for _, user := range users {
		if user.SiteRole == tableau.SiteRoleUnlicensed || e.serviceAccounts.Contains(user.Name) {
			continue
		}
		dirUser, ok := desired[user.Name]
		if !ok {
			continue
		}
		detail, detailErr := e.target.UserByID(user.ID)
		if detailErr != nil {
			logger.Warnw("failed to fetch user detail, skipping", zap.Error(detailErr), "user", user.Name)
			continue
		}
		if detail.FullName == dirUser.DisplayName {
			continue
		}
		logger.Infow("Updating user attributes from directory",
			"user", user.Name,
			"full_name", dirUser.DisplayName,
		)
		if updateErr := e.target.UpdateUser(user.ID, tableau.UserUpdate{
			FullName: dirUser.DisplayName,
			Email:    dirUser.Email,
		}); updateErr != nil {
			updateErrCount++
			logger.Errorw("failed to update user attributes", zap.Error(updateErr), "user", user.Name)
			continue
		}
		updated++
	}
	return updated, updateErrCount, nil
}
