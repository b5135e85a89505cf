package reconcile

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/biops-tools/tableau-ad-sync/tableau"
)

const (
	adminNoticeMilestone = "admin_review"
	// adminNoticeWindow rate-limits the manual-review mail: a notice is
	// re-sent only once the last one is older than the window.
	adminNoticeWindow = 72 * time.Hour
)

// noticeLedger is the part of notify.Ledger the notifier depends on.
type noticeLedger interface {
	SentAt(subject, milestone string) (time.Time, bool)
	MarkSent(subject, milestone string) error
}

type mailSender interface {
	Send(to []string, subject, htmlBody string) error
}

// AdminNotices raises the manual-review mail for a server administrator the
// directory no longer knows. Privileged accounts are never deleted or
// demoted automatically; humans decide.
type AdminNotices struct {
	ledger noticeLedger
	mailer mailSender
	mailTo []string
	clock  clock.PassiveClock
	logger *zap.SugaredLogger
}

func NewAdminNotices(
	ledger noticeLedger,
	mailer mailSender,
	mailTo []string,
	clk clock.PassiveClock,
	logger *zap.SugaredLogger,
) *AdminNotices {
	return &AdminNotices{
		ledger: ledger,
		mailer: mailer,
		mailTo: mailTo,
		clock:  clk,
		logger: logger,
	}
}

func (n *AdminNotices) Notify(siteName string, user tableau.User) error {
	if at, ok := n.ledger.SentAt(user.Name, adminNoticeMilestone); ok {
		if n.clock.Now().Sub(at) <= adminNoticeWindow {
			n.logger.Debugw("Admin notice sent recently, skipping", "user", user.Name, "sent_at", at)
			return nil
		}
	}

	subject := fmt.Sprintf("Tableau: unmatched server administrator %s", user.Name)
	body := fmt.Sprintf(
		"<html><body><p>The account <b>%s</b> on site <b>%s</b> holds the "+
			"ServerAdministrator role but is no longer present in the directory. "+
			"It was left untouched and needs manual review.</p></body></html>",
		user.Name, siteName,
	)
	if err := n.mailer.Send(n.mailTo, subject, body); err != nil {
		return errors.Wrapf(err, "failed to send admin notice for %s", user.Name)
	}
	n.logger.Infow("Sent admin review notice", "user", user.Name, "site", siteName)
	return n.ledger.MarkSent(user.Name, adminNoticeMilestone)
}
