package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// StatusMap translates statuses between the two systems. ToJira covers
// every case status. ToCase is partial: Jira statuses outside it are not
// applied to cases.
type StatusMap struct {
	ToJira map[domain.CaseStatus]string
	ToCase map[string]domain.CaseStatus
}

// DefaultStatusMap fits the stock Jira software workflow.
func DefaultStatusMap() StatusMap {
	return StatusMap{
		ToJira: map[domain.CaseStatus]string{
			domain.CaseStatusSubmitted:            "To Do",
			domain.CaseStatusAcknowledged:         "In Progress",
			domain.CaseStatusDetectionAndAnalysis: "In Progress",
			domain.CaseStatusContainment:          "In Progress",
			domain.CaseStatusPostIncident:         "In Progress",
			domain.CaseStatusReadyToClose:         "In Progress",
			domain.CaseStatusClosed:               "Done",
		},
		ToCase: map[string]domain.CaseStatus{
			"in progress": domain.CaseStatusDetectionAndAnalysis,
			"done":        domain.CaseStatusClosed,
		},
	}
}

type statusMapFile struct {
	ToJira map[string]string `yaml:"to_jira"`
	ToCase map[string]string `yaml:"to_case"`
}

// LoadStatusMap reads overrides from a YAML file on top of the defaults.
// An empty path returns the defaults.
//
//	to_jira:
//	  Containment, Eradication and Recovery: Mitigating
//	to_case:
//	  Mitigating: Containment, Eradication and Recovery
func LoadStatusMap(path string) (StatusMap, error) {
	m := DefaultStatusMap()
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read status map: %w", err)
	}
	return m, m.merge(raw)
}

func (m StatusMap) merge(raw []byte) error {
	var file statusMapFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse status map: %w", err)
	}
	for caseStatus, jiraStatus := range file.ToJira {
		s := domain.CaseStatus(caseStatus)
		if !s.Valid() {
			return fmt.Errorf("status map: unknown case status %q", caseStatus)
		}
		if strings.TrimSpace(jiraStatus) == "" {
			return fmt.Errorf("status map: empty Jira status for %q", caseStatus)
		}
		m.ToJira[s] = jiraStatus
	}
	for jiraStatus, caseStatus := range file.ToCase {
		s := domain.CaseStatus(caseStatus)
		if !s.Valid() {
			return fmt.Errorf("status map: unknown case status %q", caseStatus)
		}
		if s == domain.CaseStatusSubmitted || s == domain.CaseStatusAcknowledged {
			return fmt.Errorf("status map: %q cannot be set from Jira", caseStatus)
		}
		m.ToCase[strings.ToLower(jiraStatus)] = s
	}
	return nil
}

// JiraStatus returns the Jira status for a case status.
func (m StatusMap) JiraStatus(s domain.CaseStatus) (string, bool) {
	name, ok := m.ToJira[s]
	return name, ok
}

// CaseStatus returns the case status for a Jira status name, matched
// case-insensitively.
func (m StatusMap) CaseStatus(jiraStatus string) (domain.CaseStatus, bool) {
	s, ok := m.ToCase[strings.ToLower(strings.TrimSpace(jiraStatus))]
	return s, ok
}
