package tableau

import "encoding/xml"

type SiteRole string

const (
	SiteRoleUnlicensed          SiteRole = "Unlicensed"
	SiteRoleInteractor          SiteRole = "Interactor"
	SiteRoleServerAdministrator SiteRole = "ServerAdministrator"
)

// Principal kinds as they appear in permission grants and API paths.
const (
	PrincipalGroup = "group"
	PrincipalUser  = "user"
)

type Site struct {
	ID         string `xml:"id,attr"`
	Name       string `xml:"name,attr"`
	ContentURL string `xml:"contentUrl,attr"`
}

type User struct {
	ID       string   `xml:"id,attr"`
	Name     string   `xml:"name,attr"`
	FullName string   `xml:"fullName,attr"`
	Email    string   `xml:"email,attr"`
	SiteRole SiteRole `xml:"siteRole,attr"`
}

type Group struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type Project struct {
	ID              string `xml:"id,attr"`
	Name            string `xml:"name,attr"`
	ParentProjectID string `xml:"parentProjectId,attr"`
}

type ProjectRef struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

type Owner struct {
	ID string `xml:"id,attr"`
}

type Tag struct {
	Label string `xml:"label,attr"`
}

type Workbook struct {
	ID         string     `xml:"id,attr"`
	Name       string     `xml:"name,attr"`
	ContentURL string     `xml:"contentUrl,attr"`
	Project    ProjectRef `xml:"project"`
	Owner      Owner      `xml:"owner"`
	Tags       []Tag      `xml:"tags>tag"`
}

func (w Workbook) HasTag(label string) bool {
	return hasTag(w.Tags, label)
}

type Datasource struct {
	ID      string     `xml:"id,attr"`
	Name    string     `xml:"name,attr"`
	Project ProjectRef `xml:"project"`
	Owner   Owner      `xml:"owner"`
	Tags    []Tag      `xml:"tags>tag"`
}

func (d Datasource) HasTag(label string) bool {
	return hasTag(d.Tags, label)
}

func hasTag(tags []Tag, label string) bool {
	for _, tag := range tags {
		if tag.Label == label {
			return true
		}
	}
	return false
}

// GranteeCapabilities is one permission grant: a principal plus its
// capability name/mode pairs. Exactly one of Group and User is set.
type GranteeCapabilities struct {
	Group        *Grantee     `xml:"group"`
	User         *Grantee     `xml:"user"`
	Capabilities []Capability `xml:"capabilities>capability"`
}

// Principal returns the grant's principal kind and id.
func (g GranteeCapabilities) Principal() (kind, id string) {
	switch {
	case g.Group != nil:
		return PrincipalGroup, g.Group.ID
	case g.User != nil:
		return PrincipalUser, g.User.ID
	}
	return "", ""
}

type Grantee struct {
	ID string `xml:"id,attr"`
}

type Capability struct {
	Name string `xml:"name,attr"`
	Mode string `xml:"mode,attr"`
}

// UserUpdate carries the attributes to change; zero fields are left as is.
type UserUpdate struct {
	FullName string
	Email    string
	Password string
	SiteRole SiteRole
}

// tsRequest and tsResponse are the REST API's envelope elements.

type tsRequest struct {
	XMLName     xml.Name         `xml:"tsRequest"`
	Credentials *credentialsXML  `xml:"credentials,omitempty"`
	Site        *siteRequestXML  `xml:"site,omitempty"`
	User        *userRequestXML  `xml:"user,omitempty"`
	Group       *groupRequestXML `xml:"group,omitempty"`
}

type credentialsXML struct {
	Name     string          `xml:"name,attr,omitempty"`
	Password string          `xml:"password,attr,omitempty"`
	Site     *siteRequestXML `xml:"site,omitempty"`
}

// siteRequestXML always serializes contentUrl: the empty value addresses the
// default site.
type siteRequestXML struct {
	ContentURL string `xml:"contentUrl,attr"`
}

type userRequestXML struct {
	ID       string `xml:"id,attr,omitempty"`
	Name     string `xml:"name,attr,omitempty"`
	FullName string `xml:"fullName,attr,omitempty"`
	Email    string `xml:"email,attr,omitempty"`
	Password string `xml:"password,attr,omitempty"`
	SiteRole string `xml:"siteRole,attr,omitempty"`
}

type groupRequestXML struct {
	Name string `xml:"name,attr,omitempty"`
}

type tsResponse struct {
	XMLName     xml.Name                `xml:"tsResponse"`
	Error       *apiErrorXML            `xml:"error"`
	Credentials *credentialsResponseXML `xml:"credentials"`
	Pagination  *paginationXML          `xml:"pagination"`
	Sites       []Site                  `xml:"sites>site"`
	Users       []User                  `xml:"users>user"`
	User        *User                   `xml:"user"`
	Groups      []Group                 `xml:"groups>group"`
	Group       *Group                  `xml:"group"`
	Projects    []Project               `xml:"projects>project"`
	Workbooks   []Workbook              `xml:"workbooks>workbook"`
	Datasources []Datasource            `xml:"datasources>datasource"`
	Permissions *permissionsXML         `xml:"permissions"`
}

type credentialsResponseXML struct {
	Token string `xml:"token,attr"`
	Site  Site   `xml:"site"`
}

type paginationXML struct {
	PageNumber     int `xml:"pageNumber,attr"`
	PageSize       int `xml:"pageSize,attr"`
	TotalAvailable int `xml:"totalAvailable,attr"`
}

type apiErrorXML struct {
	Code    string `xml:"code,attr"`
	Summary string `xml:"summary"`
	Detail  string `xml:"detail"`
}

type permissionsXML struct {
	GranteeCapabilities []GranteeCapabilities `xml:"granteeCapabilities"`
}
