// Package directory is a read-only view over the Active Directory forest:
// it resolves the per-site organizational units, expands nested group
// membership into flat sets of enabled accounts and looks up single
// accounts and groups by name.
//
// The client performs no retries. Connection and query faults propagate to
// the caller so a directory outage never results in a sync against partial
// data.
package directory

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/biops-tools/tableau-ad-sync/config"
	"github.com/biops-tools/tableau-ad-sync/stringset"
)

const (
	defaultBindPasswordEnvVar = "AD_BIND_PASSWORD"
	defaultPageSize           = 1000

	// enabledAccountFilter matches accounts that are not expired at the
	// given FILETIME instant and do not carry the ACCOUNTDISABLE bit.
	enabledAccountFilter = "(&(|(accountExpires=0)(accountExpires>=%d))(!(userAccountControl:1.2.840.113556.1.4.803:=2)))"

	categoryPerson = "CN=Person"
	categoryGroup  = "CN=Group"
)

var userAttributes = []string{"sAMAccountName", "name", "mail", "distinguishedName"}

// searcher is the part of *ldap.Conn the client depends on. Tests
// substitute an in-memory implementation.
type searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
}

type Client struct {
	conn   *ldap.Conn
	search searcher

	sitesOU    string
	accountsOU string
	pageSize   uint32

	logger *zap.SugaredLogger
	clock  clock.PassiveClock
}

func New(cfg *config.DirectoryConfig, logger *zap.SugaredLogger, clk clock.PassiveClock) (*Client, error) {
	envVar := cfg.BindPasswordEnvVar
	if envVar == "" {
		envVar = defaultBindPasswordEnvVar
	}
	password := os.Getenv(envVar)
	if password == "" {
		return nil, errors.Errorf("directory bind password in %s env var shouldn't be empty", envVar)
	}

	conn, err := ldap.DialURL(cfg.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to directory at %s", cfg.Address)
	}
	_, err = conn.SimpleBind(&ldap.SimpleBindRequest{
		Username: cfg.BindDN,
		Password: password,
	})
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to bind to directory as %s", cfg.BindDN)
	}

	client := newClient(cfg, logger, clk, conn)
	client.conn = conn
	return client, nil
}

// newClient is used in tests to inject a fake searcher.
func newClient(cfg *config.DirectoryConfig, logger *zap.SugaredLogger, clk clock.PassiveClock, search searcher) *Client {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		search:     search,
		sitesOU:    cfg.SitesOU,
		accountsOU: cfg.AccountsOU,
		pageSize:   pageSize,
		logger:     logger,
		clock:      clk,
	}
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// SyncScopes lists the organizational units directly under the sites OU.
// Each OU name is a candidate site scope.
func (c *Client) SyncScopes() ([]string, error) {
	req := ldap.NewSearchRequest(
		c.sitesOU,
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=organizationalUnit)",
		[]string{"name"},
		nil,
	)
	res, err := c.search.SearchWithPaging(req, c.pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list organizational units under %s", c.sitesOU)
	}
	var scopes []string
	for _, entry := range res.Entries {
		if name := entry.GetAttributeValue("name"); name != "" {
			scopes = append(scopes, name)
		}
	}
	c.logger.Infow("Resolved sync scopes from directory", "count", len(scopes))
	return scopes, nil
}

// SiteGroups lists the groups directly under the site's OU.
func (c *Client) SiteGroups(site string) ([]Group, error) {
	base := fmt.Sprintf("OU=%s,%s", ldap.EscapeDN(site), c.sitesOU)
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=group)",
		[]string{"name", "distinguishedName"},
		nil,
	)
	res, err := c.search.SearchWithPaging(req, c.pageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list groups of site %s", site)
	}
	var groups []Group
	for _, entry := range res.Entries {
		groups = append(groups, Group{
			Name: entry.GetAttributeValue("name"),
			DN:   entry.DN,
		})
	}
	return groups, nil
}

// EnabledGroupMembers recursively expands the group into the flat set of its
// enabled member accounts. Nested groups are expanded once regardless of how
// many paths lead to them, so cyclic group graphs terminate, and users are
// deduplicated by account name.
func (c *Client) EnabledGroupMembers(groupDN string) ([]User, error) {
	visited := stringset.New()
	seen := stringset.New()
	var users []User
	if err := c.expandGroup(groupDN, visited, seen, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) expandGroup(groupDN string, visited, seen stringset.Set, users *[]User) error {
	if visited.Contains(groupDN) {
		return nil
	}
	visited.Add(groupDN)

	memberDNs, err := c.groupMemberDNs(groupDN)
	if err != nil {
		return err
	}
	for _, memberDN := range memberDNs {
		category, err := c.objectCategory(memberDN)
		if err != nil {
			return err
		}
		switch {
		case strings.EqualFold(category, categoryPerson):
			user, err := c.enabledUser(memberDN)
			if err != nil {
				return err
			}
			if user == nil {
				c.logger.Debugw("Skipping disabled or expired account", "dn", memberDN)
				continue
			}
			if seen.Contains(user.AccountName) {
				continue
			}
			seen.Add(user.AccountName)
			*users = append(*users, *user)
		case strings.EqualFold(category, categoryGroup):
			if err := c.expandGroup(memberDN, visited, seen, users); err != nil {
				return err
			}
		default:
			c.logger.Debugw("Skipping member of unhandled category", "dn", memberDN, "category", category)
		}
	}
	return nil
}

func (c *Client) groupMemberDNs(groupDN string) ([]string, error) {
	req := ldap.NewSearchRequest(
		groupDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"member"},
		nil,
	)
	res, err := c.search.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			c.logger.Warnw("Group entry not found", "dn", groupDN)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read group %s", groupDN)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0].GetAttributeValues("member"), nil
}

// objectCategory returns the first RDN of the member's objectCategory,
// e.g. "CN=Person" or "CN=Group".
func (c *Client) objectCategory(dn string) (string, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{"objectCategory"},
		nil,
	)
	res, err := c.search.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			c.logger.Warnw("Member entry not found", "dn", dn)
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to read entry %s", dn)
	}
	if len(res.Entries) == 0 {
		return "", nil
	}
	category := res.Entries[0].GetAttributeValue("objectCategory")
	return strings.SplitN(category, ",", 2)[0], nil
}

// enabledUser re-reads the account at dn with the point-in-time enabled
// filter applied. It returns nil for accounts that are disabled or expired
// at the run clock's now.
func (c *Client) enabledUser(dn string) (*User, error) {
	filter := fmt.Sprintf(enabledAccountFilter, filetimeFromTime(c.clock.Now()))
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases, 0, 0, false,
		filter,
		userAttributes,
		nil,
	)
	res, err := c.search.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to check account %s", dn)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return userFromEntry(res.Entries[0]), nil
}

// UserByAccountName looks the account up under the accounts OU. It returns
// nil when no such account exists.
func (c *Client) UserByAccountName(name string) (*User, error) {
	filter := fmt.Sprintf("(&(objectCategory=person)(sAMAccountName=%s))", ldap.EscapeFilter(name))
	req := ldap.NewSearchRequest(
		c.accountsOU,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 0, 0, false,
		filter,
		userAttributes,
		nil,
	)
	res, err := c.search.Search(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find user %s", name)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return userFromEntry(res.Entries[0]), nil
}

// GroupByAccountName looks the group up by name anywhere under the sites OU.
// It returns nil when no such group exists.
func (c *Client) GroupByAccountName(name string) (*Group, error) {
	filter := fmt.Sprintf("(&(objectClass=group)(name=%s))", ldap.EscapeFilter(name))
	req := ldap.NewSearchRequest(
		c.sitesOU,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"name", "distinguishedName", "member"},
		nil,
	)
	res, err := c.search.Search(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find group %s", name)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	entry := res.Entries[0]
	return &Group{
		Name:      entry.GetAttributeValue("name"),
		DN:        entry.DN,
		MemberDNs: entry.GetAttributeValues("member"),
	}, nil
}

func userFromEntry(entry *ldap.Entry) *User {
	return &User{
		AccountName: entry.GetAttributeValue("sAMAccountName"),
		DisplayName: entry.GetAttributeValue("name"),
		Email:       entry.GetAttributeValue("mail"),
		DN:          entry.DN,
	}
}
