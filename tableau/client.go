// Package tableau wraps the Tableau Server REST API: one authenticated
// session, paginated listings and single-call mutations for sites, users,
// groups, content and permission grants.
//
// The session holds a single token and a single active site, so callers
// must not interleave site-scoped calls with SwitchSite concurrently.
package tableau

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
)

const (
	defaultAPIVersion     = "3.10"
	defaultTimeout        = 30 * time.Second
	defaultPasswordEnvVar = "TABLEAU_PASSWORD"
	pageSize              = 1000

	// AllUsersGroupName is the reserved, system-managed group present on
	// every site. It is never created, deleted or diffed.
	AllUsersGroupName = "All Users"
)

type Client struct {
	baseURL    string
	apiVersion string
	username   string
	password   string

	httpClient *http.Client
	logger     *zap.SugaredLogger

	// dryRun = true turns every mutation into a debug log line.
	dryRun bool

	token  string
	siteID string
}

func NewClient(cfg *config.TableauConfig, logger *zap.SugaredLogger, dryRun bool) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("tableau server URL shouldn't be empty")
	}
	envVar := cfg.PasswordEnvVar
	if envVar == "" {
		envVar = defaultPasswordEnvVar
	}
	password := os.Getenv(envVar)
	if password == "" {
		return nil, errors.Errorf("tableau password in %s env var shouldn't be empty", envVar)
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		apiVersion: version,
		username:   cfg.Username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		dryRun:     dryRun,
	}, nil
}

// SignIn opens the session on the site with the given content URL; the
// empty string addresses the default site.
func (c *Client) SignIn(contentURL string) error {
	payload := &tsRequest{
		Credentials: &credentialsXML{
			Name:     c.username,
			Password: c.password,
			Site:     &siteRequestXML{ContentURL: contentURL},
		},
	}
	env, err := c.do(http.MethodPost, c.apiURL("auth/signin"), payload)
	if err != nil {
		return errors.Wrap(err, "failed to sign in")
	}
	if env.Credentials == nil {
		return errors.New("sign-in response carries no credentials")
	}
	c.token = env.Credentials.Token
	c.siteID = env.Credentials.Site.ID
	c.logger.Debugw("Signed in to Tableau", "site_id", c.siteID)
	return nil
}

func (c *Client) SignOut() error {
	if c.token == "" {
		return nil
	}
	if _, err := c.do(http.MethodPost, c.apiURL("auth/signout"), nil); err != nil {
		return errors.Wrap(err, "failed to sign out")
	}
	c.token = ""
	c.siteID = ""
	return nil
}

// SwitchSite makes the site the active one for all subsequent site-scoped
// calls. The session token is replaced. Switching to the already-active
// site is a no-op because the server rejects it.
func (c *Client) SwitchSite(site Site) error {
	if site.ID != "" && site.ID == c.siteID {
		return nil
	}
	payload := &tsRequest{Site: &siteRequestXML{ContentURL: site.ContentURL}}
	env, err := c.do(http.MethodPost, c.apiURL("auth/switchSite"), payload)
	if err != nil {
		return errors.Wrapf(err, "failed to switch to site %s", site.Name)
	}
	if env.Credentials == nil {
		return errors.New("switch-site response carries no credentials")
	}
	c.token = env.Credentials.Token
	c.siteID = env.Credentials.Site.ID
	c.logger.Debugw("Switched site", "site", site.Name, "site_id", c.siteID)
	return nil
}

func (c *Client) Sites() ([]Site, error) {
	var sites []Site
	err := c.paged(func(page int) string {
		return c.apiURL(fmt.Sprintf("sites?pageSize=%d&pageNumber=%d", pageSize, page))
	}, func(env *tsResponse) {
		sites = append(sites, env.Sites...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sites")
	}
	return sites, nil
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL, c.apiVersion, path)
}

func (c *Client) siteURL(path string) string {
	return fmt.Sprintf("%s/api/%s/sites/%s/%s", c.baseURL, c.apiVersion, c.siteID, path)
}

func (c *Client) do(method, url string, payload *tsRequest) (*tsResponse, error) {
	var body io.Reader
	if payload != nil {
		data, err := xml.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request body")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s %s", method, url)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	if c.token != "" {
		req.Header.Set("X-Tableau-Auth", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response of %s %s", method, url)
	}

	env := &tsResponse{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := xml.Unmarshal(data, env); err != nil {
			if resp.StatusCode >= http.StatusBadRequest {
				return nil, errors.Errorf("%s %s: status %d", method, url, resp.StatusCode)
			}
			return nil, errors.Wrapf(err, "failed to decode response of %s %s", method, url)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if env.Error != nil {
			return nil, &APIError{
				Code:       env.Error.Code,
				Summary:    env.Error.Summary,
				Detail:     env.Error.Detail,
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, errors.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return env, nil
}

// paged walks a listing endpoint until the pagination envelope says
// everything is fetched.
func (c *Client) paged(urlFor func(page int) string, collect func(*tsResponse)) error {
	for page := 1; ; page++ {
		env, err := c.do(http.MethodGet, urlFor(page), nil)
		if err != nil {
			return err
		}
		collect(env)
		if env.Pagination == nil {
			return nil
		}
		if env.Pagination.PageNumber*env.Pagination.PageSize >= env.Pagination.TotalAvailable {
			return nil
		}
	}
}
