package transfer

import "github.com/golang-jwt/jwt/v5"

type PostCreation struct {
	Caption        string
	Title          string
	ScheduledAt    string // 2006-01-02T15:04, empty = draft
	DeliveryMode   string
	Targets        string // JSON array of TargetSelection
	Keywords       string // JSON array of strings
	ReplyTemplates string // JSON object platform -> template
	ReplyPrivate   bool
}

type TargetSelection struct {
	AccountID int64  `json:"account_id"`
	Caption   string `json:"caption,omitempty"`
}

type TargetResultResponse struct {
	Platform     string `json:"platform"`
	OK           bool   `json:"ok"`
	MediaSkipped bool   `json:"media_skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
