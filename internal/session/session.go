package session

import (
	"slices"
	"time"

	"github.com/aegis-sign/wcsigner/internal/namespace"
)

// Session 是 topic 上一次提议及其结果的记录。
type Session struct {
	Topic        string                       `json:"topic"`
	ProposalID   int64                        `json:"proposalId"`
	Proposer     namespace.Metadata           `json:"proposer"`
	Approved     namespace.ApprovedNamespaces `json:"namespaces,omitempty"`
	Status       Status                       `json:"status"`
	RejectReason string                       `json:"rejectReason,omitempty"`
	CreatedAt    time.Time                    `json:"createdAt"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
	ExpiresAt    time.Time                    `json:"expiresAt,omitempty"`
}

// Active 报告会话是否处于可服务状态。
func (s Session) Active() bool {
	return s.Status == StatusActive
}

func (s Session) clone() Session {
	out := s
	out.Proposer.Icons = slices.Clone(s.Proposer.Icons)
	out.Approved = s.Approved.Clone()
	return out
}
