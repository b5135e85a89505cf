// Package hrms reads the HR system's OData v2 API: the feed of users with
// an upcoming (or recent) termination date and the person records behind
// them. Read-only; the offboarding reporter is its only consumer.
package hrms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/biops-tools/tableau-ad-sync/config"
)

const (
	defaultAssertionEnvVar = "HRMS_SAML_ASSERTION"
	defaultTimeout         = 30 * time.Second
	samlGrantType          = "urn:ietf:params:oauth:grant-type:saml2-bearer"
	odataDateLayout        = "2006-01-02T15:04:05"
)

// Departure is one EmpJob record with a termination date inside the query
// window.
type Departure struct {
	UserID      string
	ManagerID   string
	Termination time.Time
}

// Person is the identity record behind a user id.
type Person struct {
	UserID      string
	Username    string
	DisplayName string
	Email       string
}

type Client struct {
	baseURL   string
	companyID string
	clientID  string
	assertion string

	token      string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func New(cfg *config.HRMSConfig, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("hrms base URL shouldn't be empty")
	}
	envVar := cfg.AssertionEnvVar
	if envVar == "" {
		envVar = defaultAssertionEnvVar
	}
	assertion := os.Getenv(envVar)
	if assertion == "" {
		return nil, errors.Errorf("hrms SAML assertion in %s env var shouldn't be empty", envVar)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		companyID:  cfg.CompanyID,
		clientID:   cfg.ClientID,
		assertion:  assertion,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Authenticate requests the OAuth token the OData calls carry. Auth faults
// are fatal to the run, there are no retries.
func (c *Client) Authenticate() error {
	form := url.Values{
		"company_id": {c.companyID},
		"client_id":  {c.clientID},
		"grant_type": {samlGrantType},
		"assertion":  {c.assertion},
	}
	resp, err := c.httpClient.PostForm(c.baseURL+"/oauth/token", form)
	if err != nil {
		return errors.Wrap(err, "failed to request hrms token")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("hrms token request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errors.Wrap(err, "failed to decode hrms token response")
	}
	if payload.AccessToken == "" {
		return errors.New("hrms token response carries no access token")
	}
	c.token = payload.AccessToken
	return nil
}

type empJobRecord struct {
	UserID    string `json:"userId"`
	ManagerID string `json:"managerId"`
	// CustomDate4 is the termination date in the /Date(ms)/ form.
	CustomDate4 string `json:"customDate4"`
}

type userRecord struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	DefaultFullName string `json:"defaultFullName"`
	Email           string `json:"email"`
}

// Departures lists the users whose termination date falls inside
// [from, to]. Employment status values cover active, on-leave and
// already-terminated records so the escalation keeps firing past the date.
func (c *Client) Departures(from, to time.Time) ([]Departure, error) {
	filter := fmt.Sprintf(
		"customDate4 ge datetime'%s' and customDate4 le datetime'%s' and (emplStatus eq 't' or emplStatus eq 'f' or emplStatus eq 'T' or emplStatus eq 'F' or emplStatus eq 'e' or emplStatus eq 'd')",
		from.UTC().Format(odataDateLayout),
		to.UTC().Format(odataDateLayout),
	)
	query := url.Values{
		"$filter": {filter},
		"$select": {"userId,managerId,customDate4"},
		"$format": {"json"},
	}

	var departures []Departure
	next := c.baseURL + "/odata/v2/EmpJob?" + query.Encode()
	for next != "" {
		var page struct {
			D struct {
				Results []empJobRecord `json:"results"`
				Next    string         `json:"__next"`
			} `json:"d"`
		}
		if err := c.get(next, &page); err != nil {
			return nil, errors.Wrap(err, "failed to list departures")
		}
		for _, record := range page.D.Results {
			termination, err := parseODataDate(record.CustomDate4)
			if err != nil {
				c.logger.Warnw("Skipping departure with unparseable date",
					"user_id", record.UserID,
					"date", record.CustomDate4,
				)
				continue
			}
			departures = append(departures, Departure{
				UserID:      record.UserID,
				ManagerID:   record.ManagerID,
				Termination: termination,
			})
		}
		next = page.D.Next
	}
	c.logger.Infow("Fetched departures from HRMS", "count", len(departures))
	return departures, nil
}

// Person fetches the identity record of one user id. It returns nil when
// the id resolves to nothing, which callers treat as missing upstream data.
func (c *Client) Person(userID string) (*Person, error) {
	query := url.Values{
		"$select": {"userId,username,defaultFullName,email"},
		"$format": {"json"},
	}
	addr := fmt.Sprintf("%s/odata/v2/User('%s')?%s", c.baseURL, url.PathEscape(userID), query.Encode())

	var payload struct {
		D userRecord `json:"d"`
	}
	if err := c.get(addr, &payload); err != nil {
		var apiErr *requestError
		if errors.As(err, &apiErr) && apiErr.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to fetch person %s", userID)
	}
	return &Person{
		UserID:      payload.D.UserID,
		Username:    payload.D.Username,
		DisplayName: payload.D.DefaultFullName,
		Email:       payload.D.Email,
	}, nil
}

type requestError struct {
	status int
	body   string
}

func (e *requestError) Error() string {
	return fmt.Sprintf("hrms request failed with status %d: %s", e.status, e.body)
}

func (c *Client) get(addr string, out any) error {
	req, err := http.NewRequest(http.MethodGet, addr, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to build request %s", addr)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read hrms response")
	}
	if resp.StatusCode != http.StatusOK {
		return &requestError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to decode hrms response")
	}
	return nil
}
