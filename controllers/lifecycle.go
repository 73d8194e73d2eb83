package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"quorum/events"
	"quorum/models"
	"quorum/tally"
	"quorum/utils"
)

// Lifecycle owns the open -> completed transition and the derived-state
// recompute. Both controllers and the deadline worker go through it, so
// decided_result and winning_option_id have a single writer.
type Lifecycle struct {
	DB       *gorm.DB
	Hub      *events.Hub
	Cache    *redis.Client
	Notifier *utils.Notifier
	Logger   *log.Logger
}

func NewLifecycle(db *gorm.DB, hub *events.Hub, cache *redis.Client, notifier *utils.Notifier, logger *log.Logger) *Lifecycle {
	return &Lifecycle{
		DB:       db,
		Hub:      hub,
		Cache:    cache,
		Notifier: notifier,
		Logger:   logger,
	}
}

// LoadAggregate fetches a question with its options, ballots and group in one
// typed value; every tally consumer goes through this rather than ad-hoc
// joins.
func (lc *Lifecycle) LoadAggregate(db *gorm.DB, questionID uint) (*models.Question, error) {
	var question models.Question
	err := db.
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Votes").
		Preload("Group").
		First(&question, questionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return &question, nil
}

// Tally derives the current standing of a loaded question.
func Tally(q *models.Question) interface{} {
	if q.IsPoll() {
		return tally.Poll(q.Options, q.Votes, q.Group.RequiredVotes)
	}
	return tally.Standard(q.Votes, q.Group.RequiredVotes)
}

// RefreshDerivedState re-derives decided_result / winning_option_id after a
// ballot mutation and auto-closes the question once every member has voted
// (the threshold trigger). Returns the question's (possibly new) aggregate.
func (lc *Lifecycle) RefreshDerivedState(questionID uint) (*models.Question, error) {
	q, err := lc.LoadAggregate(lc.DB, questionID)
	if err != nil {
		return nil, err
	}
	if !q.IsOpen() {
		return q, nil
	}

	updates := map[string]interface{}{}
	voters := distinctVoters(q.Votes)

	if q.IsPoll() {
		res := tally.Poll(q.Options, q.Votes, q.Group.RequiredVotes)
		// Front-runner snapshot; frozen for real at close.
		updates["winning_option_id"] = res.WinnerID
	} else {
		res := tally.Standard(q.Votes, q.Group.RequiredVotes)
		if res.Decisive {
			updates["decided_result"] = res.Outcome
		} else {
			// A replaced ballot can un-decide a previously decisive standing.
			updates["decided_result"] = nil
		}
	}

	if err := lc.DB.Model(&models.Question{}).Where("id = ?", q.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	if q.Group.RequiredVotes > 0 && voters >= q.Group.RequiredVotes {
		if err := lc.Complete(q.ID, models.CompletionThreshold); err != nil {
			return nil, err
		}
		return lc.LoadAggregate(lc.DB, q.ID)
	}

	return lc.LoadAggregate(lc.DB, q.ID)
}

// Complete transitions a question to completed, records the method and
// freezes the tallied result at that instant. Completed questions are
// terminal.
func (lc *Lifecycle) Complete(questionID uint, method string) error {
	tx := lc.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, tx.Error)
	}

	q, err := lc.LoadAggregate(tx, questionID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if !q.IsOpen() {
		tx.Rollback()
		return models.ErrAlreadyCompleted
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":            models.QuestionStatusCompleted,
		"completed_at":      now,
		"completion_method": method,
	}

	var finalTally interface{}
	if q.IsPoll() {
		res := tally.Poll(q.Options, q.Votes, q.Group.RequiredVotes)
		updates["winning_option_id"] = res.WinnerID
		finalTally = res
	} else {
		res := tally.Standard(q.Votes, q.Group.RequiredVotes)
		updates["decided_result"] = res.Outcome
		finalTally = res
	}

	if err := tx.Model(&models.Question{}).Where("id = ?", q.ID).
		Updates(updates).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}

	lc.InvalidateTally(q.ID)
	lc.Hub.Publish(events.Event{
		Type:       events.QuestionClosed,
		GroupID:    q.GroupID,
		QuestionID: q.ID,
		Payload:    finalTally,
	})

	// Completion email is a best-effort side channel.
	go lc.notifyCompletion(q, method, finalTally)

	return nil
}

// InvalidateTally drops the cached tally payload for a question.
func (lc *Lifecycle) InvalidateTally(questionID uint) {
	if lc.Cache == nil {
		return
	}
	key := tallyCacheKey(questionID)
	if err := lc.Cache.Del(context.Background(), key).Err(); err != nil {
		lc.Logger.Printf("Failed to invalidate tally cache for question %d: %v", questionID, err)
	}
}

// InvalidateGroupTallies drops the cached tallies of every open question in
// the group. Membership changes move the quorum denominator, which every
// cached tally embeds.
func (lc *Lifecycle) InvalidateGroupTallies(groupID uint) {
	if lc.Cache == nil {
		return
	}
	var ids []uint
	if err := lc.DB.Model(&models.Question{}).
		Where("group_id = ? AND status = ?", groupID, models.QuestionStatusOpen).
		Pluck("id", &ids).Error; err != nil {
		lc.Logger.Printf("Failed to load open questions for group %d: %v", groupID, err)
		return
	}
	for _, id := range ids {
		lc.InvalidateTally(id)
	}
}

// CachedTally returns the cached tally payload, or nil on miss/disabled cache.
func (lc *Lifecycle) CachedTally(questionID uint) []byte {
	if lc.Cache == nil {
		return nil
	}
	data, err := lc.Cache.Get(context.Background(), tallyCacheKey(questionID)).Bytes()
	if err != nil {
		return nil
	}
	return data
}

// StoreTally caches a rendered tally payload with a short TTL; events, not
// the TTL, are the primary invalidation path.
func (lc *Lifecycle) StoreTally(questionID uint, payload interface{}) {
	if lc.Cache == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := lc.Cache.Set(context.Background(), tallyCacheKey(questionID), data, 30*time.Second).Err(); err != nil {
		lc.Logger.Printf("Failed to cache tally for question %d: %v", questionID, err)
	}
}

func tallyCacheKey(questionID uint) string {
	return fmt.Sprintf("question:%d:tally", questionID)
}

func (lc *Lifecycle) notifyCompletion(q *models.Question, method string, finalTally interface{}) {
	if lc.Notifier == nil {
		return
	}

	var emails []string
	if err := lc.DB.Model(&models.User{}).
		Joins("JOIN group_members ON group_members.user_id = users.id").
		Where("group_members.group_id = ? AND group_members.deleted_at IS NULL", q.GroupID).
		Pluck("users.email", &emails).Error; err != nil {
		lc.Logger.Printf("Failed to load recipients for question %d: %v", q.ID, err)
		return
	}

	data := utils.CompletionEmail{
		QuestionID: q.ID,
		Title:      q.Title,
		GroupName:  q.Group.Name,
		Method:     method,
	}
	switch res := finalTally.(type) {
	case tally.StandardResult:
		data.ResultSummary = "Result: " + res.Outcome
		data.Rows = []utils.CompletionRow{
			{Label: "Yes", Count: res.Yes},
			{Label: "No", Count: res.No},
			{Label: "Abstain", Count: res.Abstain},
		}
	case tally.PollResult:
		if len(res.Options) > 0 && res.WinnerID != nil {
			data.ResultSummary = "Winner: " + res.Options[0].Label
		} else {
			data.ResultSummary = "No votes were cast"
		}
		for _, row := range res.Options {
			data.Rows = append(data.Rows, utils.CompletionRow{Label: row.Label, Count: row.Votes})
		}
	}

	lc.Notifier.SendCompletion(data, emails)
}

func distinctVoters(ballots []models.Vote) int {
	seen := make(map[uint]struct{}, len(ballots))
	for _, b := range ballots {
		seen[b.UserID] = struct{}{}
	}
	return len(seen)
}
