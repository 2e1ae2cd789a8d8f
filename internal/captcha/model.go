package captcha

import (
	"fmt"
	"time"
)

// Token is a persisted math challenge. A token is valid until it is redeemed
// once or its TTL elapses, whichever comes first.
type Token struct {
	Token     string     `gorm:"column:token;primaryKey;size:32;not null"`
	Challenge string     `gorm:"column:challenge;size:32;not null"`
	Solution  string     `gorm:"column:solution;size:8;not null"`
	IPAddress string     `gorm:"column:ip_address;size:64;not null;default:''"`
	CreatedAt time.Time  `gorm:"column:created_at;not null;index:idx_captcha_created"`
	UsedAt    *time.Time `gorm:"column:used_at"`
}

// TableName provides the explicit table binding for GORM.
func (Token) TableName() string {
	return "captcha_tokens"
}

// Challenge is what a client receives: the token to echo back and the text to solve.
type Challenge struct {
	Token string
	Text  string
}

// Result classifies a presented token and answer.
type Result string

const (
	ResultOK       Result = "ok"
	ResultExpired  Result = "expired"
	ResultUsed     Result = "used"
	ResultWrong    Result = "wrong"
	ResultNotFound Result = "not_found"
)

// Err converts a non-OK result into an *InvalidError.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return &InvalidError{Kind: r}
}

// InvalidError reports why a token was rejected.
type InvalidError struct {
	Kind Result
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("captcha: invalid token (%s)", e.Kind)
}
