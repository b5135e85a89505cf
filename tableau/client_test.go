package tableau

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biops-tools/tableau-ad-sync/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("TABLEAU_PASSWORD", "secret")
	client, err := NewClient(
		&config.TableauConfig{
			ServerURL: server.URL,
			Username:  "svc_tabsync",
			Timeout:   5 * time.Second,
		},
		config.NewDevelopmentLogger(),
		false,
	)
	require.NoError(t, err)
	return client, server
}

func TestSignInStoresSession(t *testing.T) {
	var sawAuthHeader string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.10/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `<tsResponse>
  <credentials token="token-1"><site id="site-1" contentUrl=""/></credentials>
</tsResponse>`)
	})
	mux.HandleFunc("/api/3.10/sites/site-1/users", func(w http.ResponseWriter, r *http.Request) {
		sawAuthHeader = r.Header.Get("X-Tableau-Auth")
		fmt.Fprint(w, `<tsResponse><users/></tsResponse>`)
	})

	client, _ := newTestClient(t, mux)
	require.NoError(t, client.SignIn(""))

	_, err := client.Users()
	require.NoError(t, err)
	require.Equal(t, "token-1", sawAuthHeader)
}

func TestSwitchSiteReplacesToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.10/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<tsResponse>
  <credentials token="token-1"><site id="site-1" contentUrl=""/></credentials>
</tsResponse>`)
	})
	mux.HandleFunc("/api/3.10/auth/switchSite", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<tsResponse>
  <credentials token="token-2"><site id="site-2" contentUrl="ers"/></credentials>
</tsResponse>`)
	})

	client, _ := newTestClient(t, mux)
	require.NoError(t, client.SignIn(""))

	require.NoError(t, client.SwitchSite(Site{ID: "site-2", Name: "ERS", ContentURL: "ers"}))
	require.Equal(t, "token-2", client.token)
	require.Equal(t, "site-2", client.siteID)

	// Switching to the already-active site must not hit the server again.
	require.NoError(t, client.SwitchSite(Site{ID: "site-2", Name: "ERS", ContentURL: "ers"}))
}

func TestUsersFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.10/sites/site-1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("pageNumber") {
		case "1":
			fmt.Fprint(w, `<tsResponse>
  <pagination pageNumber="1" pageSize="2" totalAvailable="3"/>
  <users><user id="u1" name="alice"/><user id="u2" name="bob"/></users>
</tsResponse>`)
		case "2":
			fmt.Fprint(w, `<tsResponse>
  <pagination pageNumber="2" pageSize="2" totalAvailable="3"/>
  <users><user id="u3" name="carol"/></users>
</tsResponse>`)
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("pageNumber"))
		}
	})

	client, _ := newTestClient(t, mux)
	client.siteID = "site-1"

	users, err := client.Users()
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "carol", users[2].Name)
}

func TestAPIErrorDecoding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.10/sites/site-1/users/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<tsResponse>
  <error code="409003"><summary>Resource Conflict</summary><detail>User already removed</detail></error>
</tsResponse>`)
	})

	client, _ := newTestClient(t, mux)
	client.siteID = "site-1"

	err := client.DeleteUser("gone")
	require.Error(t, err)
	require.True(t, IsAlreadyAbsent(err))
}

func TestIsAlreadyAbsentRejectsOtherCodes(t *testing.T) {
	require.False(t, IsAlreadyAbsent(&APIError{Code: "401002", HTTPStatus: 401}))
	require.False(t, IsAlreadyAbsent(nil))
}

func TestPermissionsDecoding(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.10/sites/site-1/workbooks/wb-1/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<tsResponse>
  <permissions>
    <granteeCapabilities>
      <group id="g-all"/>
      <capabilities><capability name="Read" mode="Allow"/><capability name="Filter" mode="Allow"/></capabilities>
    </granteeCapabilities>
    <granteeCapabilities>
      <user id="u-guest"/>
      <capabilities><capability name="Read" mode="Deny"/></capabilities>
    </granteeCapabilities>
  </permissions>
</tsResponse>`)
	})

	client, _ := newTestClient(t, mux)
	client.siteID = "site-1"

	grants, err := client.WorkbookPermissions("wb-1")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	kind, id := grants[0].Principal()
	require.Equal(t, PrincipalGroup, kind)
	require.Equal(t, "g-all", id)
	require.Len(t, grants[0].Capabilities, 2)

	kind, id = grants[1].Principal()
	require.Equal(t, PrincipalUser, kind)
	require.Equal(t, "u-guest", id)
}

func TestDryRunSkipsMutations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("dry-run client issued %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `<tsResponse/>`)
	}))
	t.Cleanup(server.Close)

	t.Setenv("TABLEAU_PASSWORD", "secret")
	client, err := NewClient(
		&config.TableauConfig{ServerURL: server.URL, Username: "svc_tabsync"},
		config.NewDevelopmentLogger(),
		true,
	)
	require.NoError(t, err)
	client.siteID = "site-1"

	require.NoError(t, client.DeleteUser("u1"))
	require.NoError(t, client.DeleteGroup("g1"))
	require.NoError(t, client.AddGroupMember("g1", "u1"))
	require.NoError(t, client.DeleteWorkbookPermission("wb-1", PrincipalUser, "u1", Capability{Name: "Read", Mode: "Allow"}))

	_, err = client.CreateGroup("new")
	require.NoError(t, err)
}
