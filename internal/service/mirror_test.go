package service

import (
	"strings"
	"testing"
)

func TestMirrorTagsIdentifyOrigin(t *testing.T) {
	fromCase := FormatCaseComment("c1", "", "hello")
	fromTicket := FormatTicketComment("77", "Ana", "hi")

	if !FromCase(fromCase) || FromTicket(fromCase) {
		t.Errorf("case comment misclassified: %q", fromCase)
	}
	if !FromTicket(fromTicket) || FromCase(fromTicket) {
		t.Errorf("ticket comment misclassified: %q", fromTicket)
	}
	if FromCase("plain text") || FromTicket("plain text") {
		t.Error("untagged text classified as mirrored")
	}
	if !strings.HasPrefix(fromCase, "[Security IR #c1] Security IR wrote:") {
		t.Errorf("default author missing: %q", fromCase)
	}
	if !FromTicket(FormatTicketAttachment("SEC-1", "900", "a.txt", 0, "")) {
		t.Error("attachment note not tagged")
	}
}

func TestCaseIDFromLabels(t *testing.T) {
	if id, ok := CaseIDFromLabels([]string{"triage", CaseLabel("42")}); !ok || id != "42" {
		t.Errorf("got %q, %v", id, ok)
	}
	if _, ok := CaseIDFromLabels([]string{"triage", CaseLabelPrefix}); ok {
		t.Error("bare prefix matched")
	}
}

func TestFormatTicketAttachment(t *testing.T) {
	got := FormatTicketAttachment("SEC-1", "900", "pcap.zip", 2048, "https://jira/900")
	want := `[Jira #attachment-900] Attachment "pcap.zip" added to SEC-1 (2048 bytes): https://jira/900`
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}
