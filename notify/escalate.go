package notify

// Offboarding escalation milestones, most urgent first. Band boundaries are
// signed day counts until the departure date.
const (
	MilestoneThird  = "third_mail"  // the date has passed
	MilestoneSecond = "second_mail" // less than a week left
	MilestoneFirst  = "first_mail"  // more than a week left
)

// ClearThresholdDays is the day count below which a subject's state is
// dropped: the departure is long past and the escalation is over.
const ClearThresholdDays = -5

var escalationBands = []struct {
	milestone string
	due       func(daysLeft int) bool
}{
	{MilestoneThird, func(d int) bool { return d < 0 }},
	{MilestoneSecond, func(d int) bool { return d < 7 }},
	{MilestoneFirst, func(d int) bool { return d > 7 }},
}

// NextMilestone picks the milestone to send for the given day count, most
// urgent band first, or none. An already-sent milestone is never re-sent,
// and neither is any milestone less urgent than one already sent: once the
// escalation reached a level, a deadline moving back out does not restart
// the earlier mails.
func NextMilestone(daysLeft int, hasSent func(milestone string) bool) (string, bool) {
	for _, band := range escalationBands {
		if hasSent(band.milestone) {
			return "", false
		}
		if band.due(daysLeft) {
			return band.milestone, true
		}
	}
	return "", false
}
