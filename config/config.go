package config

import (
	"time"
)

type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Tableau   TableauConfig   `yaml:"tableau"`
	Logging   LoggingConfig   `yaml:"logging"`

	Sync     *SyncConfig     `yaml:"sync,omitempty"`
	Cleanup  *CleanupConfig  `yaml:"cleanup,omitempty"`
	Offboard *OffboardConfig `yaml:"offboard,omitempty"`
	HRMS     *HRMSConfig     `yaml:"hrms,omitempty"`
	Mail     *MailConfig     `yaml:"mail,omitempty"`
	Zabbix   *ZabbixConfig   `yaml:"zabbix,omitempty"`
}

type DirectoryConfig struct {
	// Address is the directory server URL, e.g. ldaps://dc01.example.com:636.
	Address string `yaml:"address"`
	BindDN  string `yaml:"bind_dn"`
	// BindPasswordEnvVar is a name of env variable with the bind password.
	// Default: "AD_BIND_PASSWORD".
	BindPasswordEnvVar string `yaml:"bind_password_env_var"`

	// SitesOU is the organizational unit whose direct child OUs name the
	// sync-eligible sites and hold their groups.
	SitesOU string `yaml:"sites_ou"`
	// AccountsOU is the subtree searched for user accounts by name.
	AccountsOU string `yaml:"accounts_ou"`

	// PageSize for paged searches. Default: 1000.
	PageSize uint32 `yaml:"page_size,omitempty"`
}

type TableauConfig struct {
	// ServerURL is the Tableau Server base URL, e.g. https://tableau.example.com.
	ServerURL string `yaml:"server_url"`
	// APIVersion of the REST API. Default: "3.10".
	APIVersion string `yaml:"api_version,omitempty"`
	Username   string `yaml:"username"`
	// PasswordEnvVar is a name of env variable with the account password.
	// Default: "TABLEAU_PASSWORD".
	PasswordEnvVar string `yaml:"password_env_var"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type SyncConfig struct {
	// ServiceAccounts are excluded from the user diff in both directions.
	ServiceAccounts []string `yaml:"service_accounts"`

	Sites []SitePolicy `yaml:"sites,omitempty"`

	// AdminMailTo receives the manual-review notice raised for unmatched
	// server administrators instead of deleting them.
	AdminMailTo []string `yaml:"admin_mail_to,omitempty"`
	// AdminStateFile keeps the per-account notice timestamps between runs.
	// Default: "tableau-admin-notices.json".
	AdminStateFile string `yaml:"admin_state_file,omitempty"`
}

// SitePolicy is a per-site carve-out record. Sites without a record get the
// zero policy (prune everything, no protected prefixes).
type SitePolicy struct {
	Name string `yaml:"name"`
	// KeepUnmatchedUsers = true means users missing from the directory are
	// never pruned on this site.
	KeepUnmatchedUsers bool `yaml:"keep_unmatched_users"`
	// ProtectedGroupPrefixes lists group name prefixes that are managed
	// outside the directory and must survive group pruning.
	ProtectedGroupPrefixes []string `yaml:"protected_group_prefixes,omitempty"`
}

type CleanupConfig struct {
	Sites []SiteCleanupPolicy `yaml:"sites"`
}

type SiteCleanupPolicy struct {
	Site string          `yaml:"site"`
	Deny []DenyPrincipal `yaml:"deny"`
}

// DenyPrincipal names a principal whose permission grants are removed
// during the cleanup sweep.
type DenyPrincipal struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
	// Type is "group" or "user". Empty matches both.
	Type string `yaml:"type,omitempty"`
	// Categories restricts the sweep to a subset of {project, workbook,
	// datasource}. Empty means all of them.
	Categories []string `yaml:"categories,omitempty"`
	// ExemptTag spares a workbook or data source carrying this tag.
	// Projects are never exempted.
	ExemptTag string `yaml:"exempt_tag,omitempty"`
}

type OffboardConfig struct {
	// StateFile keeps the per-user escalation milestones between runs.
	// Default: "leaving-users-mail-status.json".
	StateFile string `yaml:"state_file,omitempty"`
	// TemplateFile overrides the built-in report mail template.
	TemplateFile string `yaml:"template_file,omitempty"`
	// MailTo is the always-included recipient list; the leaving user and
	// their manager are appended per report.
	MailTo []string `yaml:"mail_to"`
}

type HRMSConfig struct {
	// BaseURL of the HR system's OData API, e.g. https://api.successfactors.eu.
	BaseURL   string `yaml:"base_url"`
	CompanyID string `yaml:"company_id"`
	ClientID  string `yaml:"client_id"`
	// AssertionEnvVar is a name of env variable with the SAML assertion used
	// for the token request. Default: "HRMS_SAML_ASSERTION".
	AssertionEnvVar string `yaml:"assertion_env_var"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type MailConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	From string `yaml:"from"`
	// Username enables SMTP authentication when set.
	Username string `yaml:"username,omitempty"`
	// PasswordEnvVar is a name of env variable with the SMTP password.
	// Default: "MAIL_PASSWORD". Read only when Username is set.
	PasswordEnvVar string `yaml:"password_env_var,omitempty"`
}

type ZabbixConfig struct {
	// Server is the trapper address host:port. Empty means discover it from
	// the agent config file.
	Server string `yaml:"server,omitempty"`
	// Hostname the metric is reported for. Empty means discover it from the
	// agent config file.
	Hostname string `yaml:"hostname,omitempty"`
	// AgentConf is the zabbix-agentd config path used for discovery.
	// Default: "/etc/zabbix/zabbix_agentd.conf".
	AgentConf string `yaml:"agent_conf,omitempty"`

	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	IsProduction bool   `yaml:"is_production"`
}
