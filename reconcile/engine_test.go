package reconcile

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/directory"
	"github.com/biops-tools/tableau-ad-sync/notify"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

var initialTestTime = time.Date(2023, 10, 20, 12, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	scopes     []string
	siteGroups map[string][]directory.Group
	members    map[string][]directory.User
}

func (d *fakeDirectory) SyncScopes() ([]string, error) { return d.scopes, nil }

func (d *fakeDirectory) SiteGroups(site string) ([]directory.Group, error) {
	return d.siteGroups[site], nil
}

func (d *fakeDirectory) EnabledGroupMembers(groupDN string) ([]directory.User, error) {
	return d.members[groupDN], nil
}

type fakeSiteState struct {
	users          []tableau.User
	groups         []tableau.Group
	members        map[string][]string // group id -> user ids
	ownedWorkbooks map[string]int      // user id -> count
	// absentUsers simulates stale listings: deleting such a user returns
	// the already-absent fault.
	absentUsers map[string]bool
}

type fakeTarget struct {
	sites      []tableau.Site
	state      map[string]*fakeSiteState
	active     *fakeSiteState
	failSwitch map[string]bool

	mutations []string
}

func (f *fakeTarget) record(format string, args ...any) {
	f.mutations = append(f.mutations, fmt.Sprintf(format, args...))
}

func (f *fakeTarget) Sites() ([]tableau.Site, error) { return f.sites, nil }

func (f *fakeTarget) SwitchSite(site tableau.Site) error {
	if f.failSwitch[site.Name] {
		return errors.Errorf("switch to site %s refused", site.Name)
	}
	state, ok := f.state[site.Name]
	if !ok {
		return errors.Errorf("unknown site %s", site.Name)
	}
	f.active = state
	return nil
}

func (f *fakeTarget) Users() ([]tableau.User, error) {
	return append([]tableau.User(nil), f.active.users...), nil
}

func (f *fakeTarget) UserByID(id string) (*tableau.User, error) {
	for _, user := range f.active.users {
		if user.ID == id {
			u := user
			return &u, nil
		}
	}
	return nil, errors.Errorf("user %s not found", id)
}

func (f *fakeTarget) CreateUser(user tableau.User) (*tableau.User, error) {
	user.ID = "u-" + user.Name
	f.active.users = append(f.active.users, user)
	f.record("create-user:%s", user.Name)
	return &user, nil
}

func (f *fakeTarget) UpdateUser(id string, upd tableau.UserUpdate) error {
	for i, user := range f.active.users {
		if user.ID != id {
			continue
		}
		if upd.FullName != "" {
			f.active.users[i].FullName = upd.FullName
		}
		if upd.Email != "" {
			f.active.users[i].Email = upd.Email
		}
		if upd.SiteRole != "" {
			f.active.users[i].SiteRole = upd.SiteRole
		}
		f.record("update-user:%s:role=%s", id, upd.SiteRole)
		return nil
	}
	return errors.Errorf("user %s not found", id)
}

func (f *fakeTarget) DeleteUser(id string) error {
	f.record("delete-user:%s", id)
	if f.active.absentUsers[id] {
		return &tableau.APIError{Code: "409003", HTTPStatus: 404}
	}
	for i, user := range f.active.users {
		if user.ID == id {
			f.active.users = append(f.active.users[:i], f.active.users[i+1:]...)
			return nil
		}
	}
	return &tableau.APIError{Code: "409003", HTTPStatus: 404}
}

func (f *fakeTarget) UserWorkbooks(userID string) ([]tableau.Workbook, error) {
	var workbooks []tableau.Workbook
	for i := 0; i < f.active.ownedWorkbooks[userID]; i++ {
		workbooks = append(workbooks, tableau.Workbook{
			ID:    uuid.NewString(),
			Name:  fmt.Sprintf("workbook-%d", i),
			Owner: tableau.Owner{ID: userID},
		})
	}
	return workbooks, nil
}

func (f *fakeTarget) Groups() ([]tableau.Group, error) {
	return append([]tableau.Group(nil), f.active.groups...), nil
}

func (f *fakeTarget) CreateGroup(name string) (*tableau.Group, error) {
	group := tableau.Group{ID: "g-" + name, Name: name}
	f.active.groups = append(f.active.groups, group)
	f.record("create-group:%s", name)
	return &group, nil
}

func (f *fakeTarget) DeleteGroup(id string) error {
	f.record("delete-group:%s", id)
	for i, group := range f.active.groups {
		if group.ID == id {
			f.active.groups = append(f.active.groups[:i], f.active.groups[i+1:]...)
			return nil
		}
	}
	return &tableau.APIError{Code: "409003", HTTPStatus: 404}
}

func (f *fakeTarget) GroupMembers(groupID string) ([]tableau.User, error) {
	var members []tableau.User
	for _, userID := range f.active.members[groupID] {
		user, err := f.UserByID(userID)
		if err != nil {
			return nil, err
		}
		members = append(members, *user)
	}
	return members, nil
}

func (f *fakeTarget) AddGroupMember(groupID, userID string) error {
	if f.active.members == nil {
		f.active.members = make(map[string][]string)
	}
	f.active.members[groupID] = append(f.active.members[groupID], userID)
	f.record("add-member:%s:%s", groupID, userID)
	return nil
}

func (f *fakeTarget) RemoveGroupMember(groupID, userID string) error {
	members := f.active.members[groupID]
	for i, id := range members {
		if id == userID {
			f.active.members[groupID] = append(members[:i], members[i+1:]...)
			break
		}
	}
	f.record("remove-member:%s:%s", groupID, userID)
	return nil
}

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) Send(to []string, subject, htmlBody string) error {
	m.sent = append(m.sent, subject)
	return nil
}

var (
	aliceDir = directory.User{AccountName: "alice", DisplayName: "Henderson, Alice", Email: "alice@example.com", DN: "CN=alice,OU=Accounts,DC=example,DC=com"}
	bobDir   = directory.User{AccountName: "bob", DisplayName: "Sanders, Bob", Email: "bob@example.com", DN: "CN=bob,OU=Accounts,DC=example,DC=com"}

	allUsersGroup = tableau.Group{ID: "g-all", Name: tableau.AllUsersGroupName}
)

func targetUserNames(t *testing.T, state *fakeSiteState) []string {
	t.Helper()
	var names []string
	for _, user := range state.users {
		names = append(names, user.Name)
	}
	return names
}

func newTestEngine(cfg *config.SyncConfig, dir Directory, target Target, admins *AdminNotices) *Engine {
	return NewEngine(cfg, dir, target, admins, "", config.NewDevelopmentLogger())
}

func TestUserPhaseStaleAndFresh(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts,OU=Main"}},
		},
		members: map[string][]directory.User{
			"CN=Analysts,OU=Main": {aliceDir, bobDir},
		},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users: []tableau.User{
					{ID: "u-alice", Name: "alice", FullName: aliceDir.DisplayName, SiteRole: tableau.SiteRoleInteractor},
					{ID: "u-carol", Name: "carol", SiteRole: tableau.SiteRoleInteractor},
				},
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{"g-Analysts": {"u-alice"}},
			},
		},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	require.NoError(t, engine.Run())

	state := target.state["Main"]
	require.Empty(t, cmp.Diff(
		[]string{"alice", "bob"},
		targetUserNames(t, state),
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
	))

	// bob was created with the interactive role and attributes from the
	// directory; carol had no content and is gone.
	bob, err := target.UserByID("u-bob")
	require.NoError(t, err)
	require.Equal(t, tableau.SiteRoleInteractor, bob.SiteRole)
	require.Equal(t, bobDir.DisplayName, bob.FullName)
	require.Equal(t, bobDir.Email, bob.Email)

	// bob joined the group, nothing else changed there.
	require.Equal(t, []string{"u-alice", "u-bob"}, state.members["g-Analysts"])
}

func TestStaleUserWithContentIsDemoted(t *testing.T) {
	testCases := []struct {
		name           string
		role           tableau.SiteRole
		ownedWorkbooks int

		expectedRole    tableau.SiteRole
		expectedDeleted bool
	}{
		{
			name:            "owner is demoted not deleted",
			role:            tableau.SiteRoleInteractor,
			ownedWorkbooks:  1,
			expectedRole:    tableau.SiteRoleUnlicensed,
			expectedDeleted: false,
		},
		{
			name:            "already unlicensed owner is left alone",
			role:            tableau.SiteRoleUnlicensed,
			ownedWorkbooks:  2,
			expectedRole:    tableau.SiteRoleUnlicensed,
			expectedDeleted: false,
		},
		{
			name:            "owner of nothing is deleted",
			role:            tableau.SiteRoleInteractor,
			ownedWorkbooks:  0,
			expectedDeleted: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := &fakeDirectory{
				scopes:     []string{"Main"},
				siteGroups: map[string][]directory.Group{"Main": nil},
			}
			target := &fakeTarget{
				sites: []tableau.Site{{ID: "s1", Name: "Main"}},
				state: map[string]*fakeSiteState{
					"Main": {
						users:          []tableau.User{{ID: "u-carol", Name: "carol", SiteRole: tc.role}},
						groups:         []tableau.Group{allUsersGroup},
						ownedWorkbooks: map[string]int{"u-carol": tc.ownedWorkbooks},
					},
				},
			}

			engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
			require.NoError(t, engine.Run())

			state := target.state["Main"]
			if tc.expectedDeleted {
				require.Empty(t, state.users)
				return
			}
			require.Len(t, state.users, 1)
			require.Equal(t, tc.expectedRole, state.users[0].SiteRole)
		})
	}
}

func TestStaleUserAlreadyRemovedIsBenign(t *testing.T) {
	dir := &fakeDirectory{
		scopes:     []string{"Main"},
		siteGroups: map[string][]directory.Group{"Main": nil},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users:       []tableau.User{{ID: "u-carol", Name: "carol", SiteRole: tableau.SiteRoleInteractor}},
				groups:      []tableau.Group{allUsersGroup},
				absentUsers: map[string]bool{"u-carol": true},
			},
		},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	require.NoError(t, engine.Run())
}

func TestKeepUnmatchedUsersPolicy(t *testing.T) {
	dir := &fakeDirectory{
		scopes:     []string{"ERS"},
		siteGroups: map[string][]directory.Group{"ERS": nil},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "ERS"}},
		state: map[string]*fakeSiteState{
			"ERS": {
				users:  []tableau.User{{ID: "u-carol", Name: "carol", SiteRole: tableau.SiteRoleInteractor}},
				groups: []tableau.Group{allUsersGroup},
			},
		},
	}

	cfg := &config.SyncConfig{
		Sites: []config.SitePolicy{{Name: "ERS", KeepUnmatchedUsers: true}},
	}
	engine := newTestEngine(cfg, dir, target, nil)
	require.NoError(t, engine.Run())

	require.Equal(t, []string{"carol"}, targetUserNames(t, target.state["ERS"]))
}

func TestServiceAccountsExcludedBothWays(t *testing.T) {
	svcDir := directory.User{AccountName: "svc_tabsync", DisplayName: "Sync Service", DN: "CN=svc"}
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {svcDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users:   []tableau.User{{ID: "u-svc_backup", Name: "svc_backup", SiteRole: tableau.SiteRoleInteractor}},
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{},
			},
		},
	}

	cfg := &config.SyncConfig{ServiceAccounts: []string{"svc_tabsync", "svc_backup"}}
	engine := newTestEngine(cfg, dir, target, nil)
	require.NoError(t, engine.Run())

	// svc_backup survived even though the directory does not know it, and
	// svc_tabsync was not created even though a directory group lists it.
	require.Equal(t, []string{"svc_backup"}, targetUserNames(t, target.state["Main"]))
}

func TestAdminNoticeRateLimit(t *testing.T) {
	dir := &fakeDirectory{
		scopes:     []string{"Main"},
		siteGroups: map[string][]directory.Group{"Main": nil},
	}
	newTarget := func() *fakeTarget {
		return &fakeTarget{
			sites: []tableau.Site{{ID: "s1", Name: "Main"}},
			state: map[string]*fakeSiteState{
				"Main": {
					users:  []tableau.User{{ID: "u-root", Name: "root", SiteRole: tableau.SiteRoleServerAdministrator}},
					groups: []tableau.Group{allUsersGroup},
				},
			},
		}
	}

	clk := testclock.NewFakePassiveClock(initialTestTime)
	ledger, err := notify.OpenLedger(filepath.Join(t.TempDir(), "admin.json"), clk)
	require.NoError(t, err)
	mailer := &fakeMailer{}
	admins := NewAdminNotices(ledger, mailer, []string{"bi-admins@example.com"}, clk, config.NewDevelopmentLogger())

	run := func() *fakeTarget {
		target := newTarget()
		engine := newTestEngine(&config.SyncConfig{}, dir, target, admins)
		require.NoError(t, engine.Run())
		return target
	}

	// First run notifies; the admin account itself is never touched.
	target := run()
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"root"}, targetUserNames(t, target.state["Main"]))

	// Within the 3-day window nothing new is sent.
	clk.SetTime(initialTestTime.Add(48 * time.Hour))
	run()
	require.Len(t, mailer.sent, 1)

	// After day 4 exactly one more goes out.
	clk.SetTime(initialTestTime.Add(96 * time.Hour))
	run()
	require.Len(t, mailer.sent, 2)
}

func TestGroupPhaseReservedAndProtected(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"ERS"},
		siteGroups: map[string][]directory.Group{
			"ERS": {{Name: "Fresh", DN: "CN=Fresh"}},
		},
		members: map[string][]directory.User{"CN=Fresh": nil},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "ERS"}},
		state: map[string]*fakeSiteState{
			"ERS": {
				groups: []tableau.Group{
					allUsersGroup,
					{ID: "g-F_ext", Name: "F_externals"},
					{ID: "g-A_adm", Name: "A_admins"},
					{ID: "g-Old", Name: "Old"},
				},
			},
		},
	}

	cfg := &config.SyncConfig{
		Sites: []config.SitePolicy{{Name: "ERS", ProtectedGroupPrefixes: []string{"F_", "A_"}}},
	}
	engine := newTestEngine(cfg, dir, target, nil)
	require.NoError(t, engine.Run())

	var names []string
	for _, group := range target.state["ERS"].groups {
		names = append(names, group.Name)
	}
	require.Empty(t, cmp.Diff(
		[]string{tableau.AllUsersGroupName, "A_admins", "F_externals", "Fresh"},
		names,
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
	))
}

func TestMembershipUnknownAccountSkipped(t *testing.T) {
	daveDir := directory.User{AccountName: "dave", DN: "CN=dave"}
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {daveDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{},
			},
		},
	}

	// dave is a service account, so the user phase never creates it; the
	// membership phase must skip it with a warning instead of failing.
	cfg := &config.SyncConfig{ServiceAccounts: []string{"dave"}}
	engine := newTestEngine(cfg, dir, target, nil)
	require.NoError(t, engine.Run())
	require.Empty(t, target.state["Main"].members["g-Analysts"])
}

func TestFullNameSyncedFromDirectory(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {aliceDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users: []tableau.User{
					{ID: "u-alice", Name: "alice", FullName: "Maiden, Alice", SiteRole: tableau.SiteRoleInteractor},
				},
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{"g-Analysts": {"u-alice"}},
			},
		},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	require.NoError(t, engine.Run())

	alice, err := target.UserByID("u-alice")
	require.NoError(t, err)
	require.Equal(t, aliceDir.DisplayName, alice.FullName)
}

func TestConvergedSiteIsFixedPoint(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {aliceDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users: []tableau.User{
					{ID: "u-alice", Name: "alice", FullName: aliceDir.DisplayName, Email: aliceDir.Email, SiteRole: tableau.SiteRoleInteractor},
				},
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{"g-Analysts": {"u-alice"}},
			},
		},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	require.NoError(t, engine.Run())
	require.Empty(t, target.mutations)
}

func TestSiteFaultDoesNotAbortOtherSites(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"Broken", "Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {bobDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{
			{ID: "s0", Name: "Broken"},
			{ID: "s1", Name: "Main"},
		},
		state: map[string]*fakeSiteState{
			"Broken": {},
			"Main": {
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{},
			},
		},
		failSwitch: map[string]bool{"Broken": true},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	err := engine.Run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Broken")

	// The healthy site was still reconciled.
	require.Equal(t, []string{"bob"}, targetUserNames(t, target.state["Main"]))
}

func TestSiteFilterNarrowsRun(t *testing.T) {
	dir := &fakeDirectory{
		scopes:     []string{"Main", "Other"},
		siteGroups: map[string][]directory.Group{"Main": nil, "Other": nil},
	}
	target := &fakeTarget{
		sites: []tableau.Site{
			{ID: "s1", Name: "Main"},
			{ID: "s2", Name: "Other"},
		},
		state: map[string]*fakeSiteState{
			"Main": {
				users:  []tableau.User{{ID: "u-carol", Name: "carol", SiteRole: tableau.SiteRoleInteractor}},
				groups: []tableau.Group{allUsersGroup},
			},
			"Other": {
				users:  []tableau.User{{ID: "u-dan", Name: "dan", SiteRole: tableau.SiteRoleInteractor}},
				groups: []tableau.Group{allUsersGroup},
			},
		},
	}

	engine := NewEngine(&config.SyncConfig{}, dir, target, nil, "Main", config.NewDevelopmentLogger())
	require.NoError(t, engine.Run())

	require.Empty(t, target.state["Main"].users)
	require.Equal(t, []string{"dan"}, targetUserNames(t, target.state["Other"]))
}

func TestReturningUnlicensedUserIsPromoted(t *testing.T) {
	dir := &fakeDirectory{
		scopes: []string{"Main"},
		siteGroups: map[string][]directory.Group{
			"Main": {{Name: "Analysts", DN: "CN=Analysts"}},
		},
		members: map[string][]directory.User{"CN=Analysts": {bobDir}},
	}
	target := &fakeTarget{
		sites: []tableau.Site{{ID: "s1", Name: "Main"}},
		state: map[string]*fakeSiteState{
			"Main": {
				users:   []tableau.User{{ID: "u-bob", Name: "bob", SiteRole: tableau.SiteRoleUnlicensed}},
				groups:  []tableau.Group{allUsersGroup, {ID: "g-Analysts", Name: "Analysts"}},
				members: map[string][]string{},
			},
		},
	}

	engine := newTestEngine(&config.SyncConfig{}, dir, target, nil)
	require.NoError(t, engine.Run())

	// The parked account was promoted in place, not re-created.
	bob, err := target.UserByID("u-bob")
	require.NoError(t, err)
	require.Equal(t, tableau.SiteRoleInteractor, bob.SiteRole)
	require.Contains(t, target.mutations, "update-user:u-bob:role=Interactor")
	require.NotContains(t, target.mutations, "create-user:bob")
}
