package session

// Status 表示 Session 当前所处的生命周期阶段。
type Status string

const (
	// StatusPending 表示已收到提议，尚未决定批准或拒绝。
	StatusPending Status = "PENDING"
	// StatusActive 表示提议已批准，可处理签名请求。
	StatusActive Status = "ACTIVE"
	// StatusRejected 表示提议被拒绝，终态。
	StatusRejected Status = "REJECTED"
	// StatusExpired 表示远端删除了会话，终态。
	StatusExpired Status = "EXPIRED"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusExpired:
		return string(s)
	default:
		return "UNKNOWN"
	}
}

// Terminal 报告状态是否不可再迁移。终态记录可以被新的提议替换。
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusExpired
}

// canTransition 描述合法的状态迁移。
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusRejected
	case StatusActive:
		return to == StatusExpired
	default:
		return false
	}
}
