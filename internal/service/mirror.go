package service

import (
	"fmt"
	"strings"
)

// Mirrored text carries a tag naming the side it was copied from and the
// ID it had there. The tag keeps a copy from being copied back and lets a
// redelivered event find the copy it already made.
const (
	caseTagPrefix   = "[Security IR #"
	ticketTagPrefix = "[Jira #"
)

// CaseLabelPrefix prefixes the Jira label that marks an issue as the
// mirror of a case.
const CaseLabelPrefix = "security-ir-case-"

func caseTag(id string) string   { return caseTagPrefix + id + "]" }
func ticketTag(id string) string { return ticketTagPrefix + id + "]" }

// FormatCaseComment renders a case comment for the ticket.
func FormatCaseComment(commentID, author, body string) string {
	if author == "" {
		author = "Security IR"
	}
	return fmt.Sprintf("%s %s wrote:\n\n%s", caseTag(commentID), author, body)
}

// FormatTicketComment renders a ticket comment for the case.
func FormatTicketComment(commentID, author, body string) string {
	if author == "" {
		author = "Jira user"
	}
	return fmt.Sprintf("%s %s wrote:\n\n%s", ticketTag(commentID), author, body)
}

// FormatTicketAttachment renders the case comment that stands in for a
// file attached in Jira.
func FormatTicketAttachment(ticketKey, attachmentID, fileName string, size int64, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Attachment %q added to %s", ticketTag("attachment-"+attachmentID), fileName, ticketKey)
	if size > 0 {
		fmt.Fprintf(&b, " (%d bytes)", size)
	}
	if url != "" {
		fmt.Fprintf(&b, ": %s", url)
	}
	return b.String()
}

// FromCase reports whether text was mirrored out of a case.
func FromCase(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), caseTagPrefix)
}

// FromTicket reports whether text was mirrored out of a ticket.
func FromTicket(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), ticketTagPrefix)
}

// CaseLabel is the label tying an issue to caseID.
func CaseLabel(caseID string) string {
	return CaseLabelPrefix + caseID
}

// CaseIDFromLabels returns the case an issue mirrors, if labelled.
func CaseIDFromLabels(labels []string) (string, bool) {
	for _, l := range labels {
		if id, ok := strings.CutPrefix(l, CaseLabelPrefix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// TicketDescription renders the issue description of a mirrored case.
func TicketDescription(caseID, description string) string {
	header := fmt.Sprintf("Mirrored from Security IR case %s.", caseID)
	if strings.TrimSpace(description) == "" {
		return header
	}
	return header + "\n\n" + description
}

// CaseDescription renders the case description of a case opened from an issue.
func CaseDescription(ticketKey, description string) string {
	header := fmt.Sprintf("Opened from Jira issue %s.", ticketKey)
	if strings.TrimSpace(description) == "" {
		return header
	}
	return header + "\n\n" + description
}

func containsTag(bodies []string, tag string) bool {
	for _, b := range bodies {
		if strings.Contains(b, tag) {
			return true
		}
	}
	return false
}
