package directory

// User is an immutable snapshot of a directory account. Only enabled
// accounts ever leave this package, so there is no enabled field.
type User struct {
	AccountName string
	DisplayName string
	Email       string
	DN          string
}

// Group is a named node of the directory tree. MemberDNs may reference both
// users and other groups.
type Group struct {
	Name      string
	DN        string
	MemberDNs []string
}
