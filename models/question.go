package models

import (
	"time"

	"gorm.io/gorm"
)

// Question status
const (
	QuestionStatusOpen      = "open"
	QuestionStatusCompleted = "completed"
)

// Question types
const (
	QuestionTypeStandard = "standard" // yes/no/abstain
	QuestionTypePoll     = "poll"     // multi-option, single- or multi-select
)

// Completion methods, recorded when a question transitions to completed
const (
	CompletionManual    = "manual"
	CompletionThreshold = "threshold"
	CompletionDeadline  = "deadline"
)

// Ballot values for standard questions
const (
	VoteYes     = "yes"
	VoteNo      = "no"
	VoteAbstain = "abstain"
)

// Decided results for standard questions
const (
	ResultApproved   = "approved"
	ResultRejected   = "rejected"
	ResultNoMajority = "no_majority"
)

// Question is an agenda item a group votes on. Once completed it is terminal;
// there is no reopening.
type Question struct {
	gorm.Model
	GroupID     uint   `gorm:"not null;index" json:"group_id"`
	Title       string `gorm:"not null" json:"title"`
	Description string `json:"description"`

	Status        string     `gorm:"default:'open'" json:"status"`   // open, completed
	QuestionType  string     `gorm:"not null" json:"question_type"`  // standard, poll
	AllowMultiple bool       `gorm:"default:false" json:"allow_multiple"`
	Deadline      *time.Time `json:"deadline"`

	// Set at completion
	CompletionMethod string     `json:"completion_method,omitempty"` // manual, threshold, deadline
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// Derived state, written only by the authoritative recompute (see the
	// tally package and controllers). WinningOptionID is updated while open as
	// a front-runner snapshot and frozen at close; DecidedResult is persisted
	// while open only once the outcome can no longer flip, and frozen at close.
	WinningOptionID *uint   `json:"winning_option_id,omitempty"`
	DecidedResult   *string `json:"decided_result,omitempty"`

	// Relations
	Options []PollOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
	Votes   []Vote       `gorm:"foreignKey:QuestionID" json:"votes,omitempty"`
	Group   Group        `json:"-"`
}

func (q *Question) IsOpen() bool {
	return q.Status == QuestionStatusOpen
}

func (q *Question) IsPoll() bool {
	return q.QuestionType == QuestionTypePoll
}

// SingleBallot reports whether the question admits at most one ballot per
// voter (standard questions and single-select polls).
func (q *Question) SingleBallot() bool {
	return !q.IsPoll() || !q.AllowMultiple
}

// HasOption reports whether the given option belongs to this question.
// Requires Options to be loaded.
func (q *Question) HasOption(optionID uint) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// DeadlinePassed reports whether the question has a deadline that is behind
// the given instant.
func (q *Question) DeadlinePassed(now time.Time) bool {
	return q.Deadline != nil && q.Deadline.Before(now)
}

// PollOption is one choice of a poll. Immutable once any ballot references any
// option of the question.
type PollOption struct {
	gorm.Model
	QuestionID  uint   `gorm:"not null;index" json:"question_id"`
	Label       string `gorm:"not null" json:"label"`
	Description string `json:"description"`
	SortOrder   int    `gorm:"default:0" json:"sort_order"`
}

// Vote is one cast ballot. Exactly one of Value and PollOptionID is populated,
// depending on the question type; never both, never neither.
//
// SingleChoice is denormalized from the question (true for standard questions
// and single-select polls) so the store itself can enforce one ballot per
// voter via a partial unique index; see config.Migrate. For multi-select
// polls uniqueness is per (question, user, option) instead.
type Vote struct {
	gorm.Model
	QuestionID   uint    `gorm:"not null;index" json:"question_id"`
	UserID       uint    `gorm:"not null;index" json:"user_id"`
	Value        *string `gorm:"column:vote" json:"vote,omitempty"`
	PollOptionID *uint   `json:"poll_option_id,omitempty"`
	SingleChoice bool    `gorm:"not null;default:false" json:"-"`

	// Relations
	Question Question `json:"-"`
}
