package hrms

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biops-tools/tableau-ad-sync/config"
)

func TestParseODataDate(t *testing.T) {
	testCases := []struct {
		name  string
		value string

		expected    time.Time
		expectedErr bool
	}{
		{
			name:     "plain milliseconds",
			value:    "/Date(1700000000000)/",
			expected: time.UnixMilli(1700000000000).UTC(),
		},
		{
			name:     "with offset suffix",
			value:    "/Date(1700000000000+0000)/",
			expected: time.UnixMilli(1700000000000).UTC(),
		},
		{
			name:        "not a date",
			value:       "2023-11-14",
			expectedErr: true,
		},
		{
			name:        "garbage inside",
			value:       "/Date(soon)/",
			expectedErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := parseODataDate(tc.value)
			if tc.expectedErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, parsed)
		})
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("HRMS_SAML_ASSERTION", "assertion")
	client, err := New(
		&config.HRMSConfig{
			BaseURL:   server.URL,
			CompanyID: "EXAMPLECO",
			ClientID:  "client-1",
		},
		config.NewDevelopmentLogger(),
	)
	require.NoError(t, err)
	return client
}

func TestAuthenticate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "EXAMPLECO", r.Form.Get("company_id"))
		require.Equal(t, "client-1", r.Form.Get("client_id"))
		require.Equal(t, samlGrantType, r.Form.Get("grant_type"))
		fmt.Fprint(w, `{"access_token": "token-1", "expires_in": 86400}`)
	})

	client := newTestClient(t, mux)
	require.NoError(t, client.Authenticate())
	require.Equal(t, "token-1", client.token)
}

func TestDeparturesFollowsNextLinks(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/odata/v2/EmpJob", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"d": {"results": [
				{"userId": "1002", "managerId": "2002", "customDate4": "/Date(1700006400000)/"}
			]}}`)
			return
		}
		require.Contains(t, r.URL.Query().Get("$filter"), "customDate4 ge datetime'")
		fmt.Fprintf(w, `{"d": {"results": [
			{"userId": "1001", "managerId": "2001", "customDate4": "/Date(1700000000000)/"},
			{"userId": "1003", "managerId": "2003", "customDate4": "someday"}
		], "__next": "%s/odata/v2/EmpJob?page=2"}}`, server.URL)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	t.Setenv("HRMS_SAML_ASSERTION", "assertion")
	client, err := New(&config.HRMSConfig{BaseURL: server.URL}, config.NewDevelopmentLogger())
	require.NoError(t, err)
	client.token = "token-1"

	now := time.Date(2023, 11, 10, 0, 0, 0, 0, time.UTC)
	departures, err := client.Departures(now.AddDate(0, 0, -7), now.AddDate(0, 0, 30))
	require.NoError(t, err)

	// The record with the unparseable date is skipped, both pages land.
	require.Len(t, departures, 2)
	require.Equal(t, "1001", departures[0].UserID)
	require.Equal(t, "2001", departures[0].ManagerID)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), departures[0].Termination)
	require.Equal(t, "1002", departures[1].UserID)
}

func TestPersonLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/odata/v2/User('1001')", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"d": {"userId": "1001", "username": "jdoe", "defaultFullName": "Doe, Jane", "email": "jdoe@example.com"}}`)
	})
	mux.HandleFunc("/odata/v2/User('9999')", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such user", http.StatusNotFound)
	})

	client := newTestClient(t, mux)
	client.token = "token-1"

	person, err := client.Person("1001")
	require.NoError(t, err)
	require.Equal(t, &Person{
		UserID:      "1001",
		Username:    "jdoe",
		DisplayName: "Doe, Jane",
		Email:       "jdoe@example.com",
	}, person)

	missing, err := client.Person("9999")
	require.NoError(t, err)
	require.Nil(t, missing)
}
