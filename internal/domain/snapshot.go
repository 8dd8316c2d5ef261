package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"
)

// CaseSnapshot is the last observed state of a case, kept so that changes
// can be derived by comparison.
type CaseSnapshot struct {
	CaseID        string
	Status        CaseStatus
	ContentHash   string
	CommentIDs    []string
	AttachmentIDs []string
	CaseUpdatedAt time.Time
	SyncedAt      time.Time
}

// HasComment reports whether the comment was already observed.
func (s *CaseSnapshot) HasComment(id string) bool {
	return s != nil && slices.Contains(s.CommentIDs, id)
}

// HasAttachment reports whether the attachment was already observed.
func (s *CaseSnapshot) HasAttachment(id string) bool {
	return s != nil && slices.Contains(s.AttachmentIDs, id)
}

// ContentHash fingerprints the user-editable text of a case.
func ContentHash(title, description string) string {
	sum := sha256.Sum256([]byte(title + "\x00" + description))
	return hex.EncodeToString(sum[:])
}

// SnapshotOf captures the current state of c.
func SnapshotOf(c *Case, syncedAt time.Time) *CaseSnapshot {
	snap := &CaseSnapshot{
		CaseID:        c.ID,
		Status:        c.Status,
		ContentHash:   ContentHash(c.Title, c.Description),
		CommentIDs:    make([]string, 0, len(c.Comments)),
		AttachmentIDs: make([]string, 0, len(c.Attachments)),
		CaseUpdatedAt: c.UpdatedAt,
		SyncedAt:      syncedAt,
	}
	for _, cm := range c.Comments {
		snap.CommentIDs = append(snap.CommentIDs, cm.ID)
	}
	for _, att := range c.Attachments {
		snap.AttachmentIDs = append(snap.AttachmentIDs, att.ID)
	}
	return snap
}
