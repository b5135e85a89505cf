package offboard

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/biops-tools/tableau-ad-sync/hrms"
)

// OwnedWorkbook is one workbook still owned by the leaving user.
type OwnedWorkbook struct {
	Name        string
	ProjectPath string
}

// SiteContent groups the owned workbooks of one site.
type SiteContent struct {
	Site      string
	Workbooks []OwnedWorkbook
}

type reportData struct {
	DisplayName string
	Username    string
	Termination string
	DaysLeft    int
	Sites       []SiteContent
}

var reportTemplate = template.Must(template.New("report").Parse(strings.TrimSpace(`
<html>
<body>
<p><b>{{.DisplayName}}</b> ({{.Username}}) is leaving on {{.Termination}}
({{.DaysLeft}} days left) and still owns Tableau content:</p>
{{range .Sites}}
<h3>Site {{.Site}}</h3>
<ul>
{{range .Workbooks}}  <li>{{.ProjectPath}} / <b>{{.Name}}</b></li>
{{end}}</ul>
{{end}}
<p>Please hand the content over or archive it before the departure date.</p>
</body>
</html>
`)))

func renderReport(person *hrms.Person, termination time.Time, daysLeft int, content []SiteContent) (subject, body string, err error) {
	subject = fmt.Sprintf("Tableau content of leaving user %s", person.DisplayName)
	var builder strings.Builder
	err = reportTemplate.Execute(&builder, reportData{
		DisplayName: person.DisplayName,
		Username:    person.Username,
		Termination: termination.Format("2006-01-02"),
		DaysLeft:    daysLeft,
		Sites:       content,
	})
	if err != nil {
		return "", "", errors.Wrap(err, "failed to render report mail")
	}
	return subject, builder.String(), nil
}
