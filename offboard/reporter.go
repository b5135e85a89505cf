// Package offboard turns the HR departure feed into escalating mail
// reports about Tableau content still owned by leaving users. The ledger
// keeps every milestone one-shot, so repeated runs mail at most one step
// of the escalation per user.
package offboard

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/biops-tools/tableau-ad-sync/hrms"
	"github.com/biops-tools/tableau-ad-sync/notify"
	"github.com/biops-tools/tableau-ad-sync/tableau"
)

// Departure feed window relative to the run clock.
const (
	windowPastDays   = 7
	windowFutureDays = 30
)

type HRMS interface {
	Departures(from, to time.Time) ([]hrms.Departure, error)
	Person(userID string) (*hrms.Person, error)
}

type Target interface {
	Sites() ([]tableau.Site, error)
	SwitchSite(site tableau.Site) error
	Users() ([]tableau.User, error)
	Workbooks() ([]tableau.Workbook, error)
	Projects() ([]tableau.Project, error)
}

type Ledger interface {
	HasSent(subject, milestone string) bool
	MarkSent(subject, milestone string) error
	Clear(subject string) error
}

type Mailer interface {
	Send(to []string, subject, htmlBody string) error
}

type Reporter struct {
	hrms   HRMS
	target Target
	ledger Ledger
	mailer Mailer
	mailTo []string

	clock  clock.PassiveClock
	logger *zap.SugaredLogger
}

func NewReporter(
	hrmsClient HRMS,
	target Target,
	ledger Ledger,
	mailer Mailer,
	mailTo []string,
	clk clock.PassiveClock,
	logger *zap.SugaredLogger,
) *Reporter {
	return &Reporter{
		hrms:   hrmsClient,
		target: target,
		ledger: ledger,
		mailer: mailer,
		mailTo: mailTo,
		clock:  clk,
		logger: logger,
	}
}

// Run processes every departure in the feed window once. A fault on one
// departure is logged and the remaining ones still get processed.
func (r *Reporter) Run() error {
	r.logger.Info("Start offboarding report run")
	defer r.logger.Info("Finish offboarding report run")

	now := r.clock.Now()
	departures, err := r.hrms.Departures(now.AddDate(0, 0, -windowPastDays), now.AddDate(0, 0, windowFutureDays))
	if err != nil {
		return errors.Wrap(err, "failed to list departures")
	}
	sites, err := r.target.Sites()
	if err != nil {
		return errors.Wrap(err, "failed to list Tableau sites")
	}

	var failed []string
	for _, departure := range departures {
		if err := r.process(now, sites, departure); err != nil {
			failed = append(failed, departure.UserID)
			r.logger.Errorw("Departure processing failed", zap.Error(err), "user_id", departure.UserID)
		}
	}
	if len(failed) > 0 {
		return errors.Errorf("failed to process departures: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (r *Reporter) process(now time.Time, sites []tableau.Site, departure hrms.Departure) error {
	person, err := r.hrms.Person(departure.UserID)
	if err != nil {
		return err
	}
	if person == nil || person.Username == "" || person.Email == "" {
		r.logger.Warnw("Departure lacks person data, skipping", "user_id", departure.UserID)
		return nil
	}
	logger := r.logger.With("user", person.Username)

	daysLeft := int(math.Floor(departure.Termination.Sub(now).Hours() / 24))
	if daysLeft < notify.ClearThresholdDays {
		logger.Debugw("Departure long past, dropping notification state", "days_left", daysLeft)
		return r.ledger.Clear(person.Username)
	}

	content := r.inventory(logger, sites, person)
	if len(content) == 0 {
		logger.Debugw("User owns no content, skipping")
		return r.ledger.Clear(person.Username)
	}

	milestone, due := notify.NextMilestone(daysLeft, func(m string) bool {
		return r.ledger.HasSent(person.Username, m)
	})
	if !due {
		logger.Debugw("No escalation step due", "days_left", daysLeft)
		return nil
	}

	recipients := append([]string{}, r.mailTo...)
	recipients = append(recipients, person.Email)
	if manager, err := r.hrms.Person(departure.ManagerID); err != nil {
		logger.Warnw("failed to resolve manager, mailing without", zap.Error(err), "manager_id", departure.ManagerID)
	} else if manager != nil && manager.Email != "" {
		recipients = append(recipients, manager.Email)
	}

	subject, body, err := renderReport(person, departure.Termination, daysLeft, content)
	if err != nil {
		return err
	}
	// Mail is fire-and-forget: a failed send is logged and the milestone
	// stays unmarked, so the next run retries it.
	if err := r.mailer.Send(recipients, subject, body); err != nil {
		logger.Warnw("failed to send report mail", zap.Error(err))
		return nil
	}
	logger.Infow("Sent offboarding report", "milestone", milestone, "days_left", daysLeft)
	return r.ledger.MarkSent(person.Username, milestone)
}

// inventory collects the user's owned workbooks across all sites. A fault
// on one site is logged and the remaining sites are still inspected.
func (r *Reporter) inventory(logger *zap.SugaredLogger, sites []tableau.Site, person *hrms.Person) []SiteContent {
	var content []SiteContent
	for _, site := range sites {
		siteContent, err := r.siteInventory(site, person)
		if err != nil {
			logger.Errorw("failed to inventory site, skipping", zap.Error(err), "site", site.Name)
			continue
		}
		if siteContent != nil {
			content = append(content, *siteContent)
		}
	}
	return content
}

func (r *Reporter) siteInventory(site tableau.Site, person *hrms.Person) (*SiteContent, error) {
	if err := r.target.SwitchSite(site); err != nil {
		return nil, err
	}
	users, err := r.target.Users()
	if err != nil {
		return nil, err
	}
	var owner *tableau.User
	for i := range users {
		if strings.EqualFold(users[i].Email, person.Email) {
			owner = &users[i]
			break
		}
	}
	if owner == nil {
		return nil, nil
	}

	workbooks, err := r.target.Workbooks()
	if err != nil {
		return nil, err
	}
	var owned []tableau.Workbook
	for _, workbook := range workbooks {
		if workbook.Owner.ID == owner.ID {
			owned = append(owned, workbook)
		}
	}
	if len(owned) == 0 {
		return nil, nil
	}

	projects, err := r.target.Projects()
	if err != nil {
		return nil, err
	}
	paths := projectPaths(projects)

	content := &SiteContent{Site: site.Name}
	for _, workbook := range owned {
		content.Workbooks = append(content.Workbooks, OwnedWorkbook{
			Name:        workbook.Name,
			ProjectPath: paths[workbook.Project.ID],
		})
	}
	return content, nil
}

// projectPaths renders each project's full path from the root, joined with
// " / " under the "Home" root, the way the server's own UI shows it.
func projectPaths(projects []tableau.Project) map[string]string {
	byID := make(map[string]tableau.Project, len(projects))
	for _, project := range projects {
		byID[project.ID] = project
	}
	paths := make(map[string]string, len(projects))
	for _, project := range projects {
		parts := []string{project.Name}
		// Bounded walk: a malformed parent chain must not loop forever.
		current := project
		for i := 0; i < len(projects); i++ {
			parent, ok := byID[current.ParentProjectID]
			if !ok {
				break
			}
			parts = append([]string{parent.Name}, parts...)
			current = parent
		}
		paths[project.ID] = strings.Join(append([]string{"Home"}, parts...), " / ")
	}
	return paths
}
