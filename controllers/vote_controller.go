package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"quorum/events"
	"quorum/models"
)

type VoteController struct {
	DB        *gorm.DB
	Hub       *events.Hub
	Lifecycle *Lifecycle
	Logger    *log.Logger
}

func NewVoteController(db *gorm.DB, hub *events.Hub, lifecycle *Lifecycle, logger *log.Logger) *VoteController {
	return &VoteController{DB: db, Hub: hub, Lifecycle: lifecycle, Logger: logger}
}

// CastVoteRequest carries one of three shapes, matching the question:
// `vote` for standard questions, `option_id` for single-select polls and
// `option_ids` for multi-select polls.
type CastVoteRequest struct {
	Vote      string `json:"vote"`
	OptionID  uint   `json:"option_id"`
	OptionIDs []uint `json:"option_ids"`
}

// CastVote casts or replaces the caller's ballot(s) on an open question. The
// replace is delete-then-insert inside one transaction, so readers never see
// a voter with a mixed or empty ballot set; concurrent duplicate inserts are
// resolved by the store's unique ballot indexes.
func (vc *VoteController) CastVote(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question id",
		})
	}

	var req CastVoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	question, err := vc.Lifecycle.LoadAggregate(vc.DB, uint(id))
	if err != nil {
		return vc.renderError(c, err)
	}

	// Deadline enforcement on the hot path: a cast arriving after the
	// deadline closes the question and is itself rejected.
	if question.IsOpen() && question.DeadlinePassed(time.Now()) {
		if err := vc.Lifecycle.Complete(question.ID, models.CompletionDeadline); err != nil &&
			!errors.Is(err, models.ErrAlreadyCompleted) {
			return vc.renderError(c, err)
		}
		return vc.renderError(c, models.ErrAlreadyCompleted)
	}
	if !question.IsOpen() {
		return vc.renderError(c, models.ErrAlreadyCompleted)
	}

	ballots, err := vc.buildBallots(question, user.ID, req)
	if err != nil {
		return vc.renderError(c, err)
	}

	if err := vc.replaceBallots(question.ID, user.ID, ballots); err != nil {
		return vc.renderError(c, err)
	}

	updated, err := vc.Lifecycle.RefreshDerivedState(question.ID)
	if err != nil {
		return vc.renderError(c, err)
	}

	vc.Lifecycle.InvalidateTally(question.ID)
	vc.Hub.Publish(events.Event{
		Type:       events.BallotCast,
		GroupID:    question.GroupID,
		QuestionID: question.ID,
	})

	return c.Status(fiber.StatusCreated).JSON(QuestionWithTally{
		Question: updated,
		Tally:    Tally(updated),
	})
}

// buildBallots validates the request shape against the question type and
// returns the full ballot set that will replace the voter's previous one.
func (vc *VoteController) buildBallots(q *models.Question, userID uint, req CastVoteRequest) ([]models.Vote, error) {
	switch {
	case !q.IsPoll():
		if req.OptionID != 0 || len(req.OptionIDs) > 0 {
			return nil, models.ErrValidation
		}
		if req.Vote != models.VoteYes && req.Vote != models.VoteNo && req.Vote != models.VoteAbstain {
			return nil, models.ErrValidation
		}
		value := req.Vote
		return []models.Vote{{
			QuestionID:   q.ID,
			UserID:       userID,
			Value:        &value,
			SingleChoice: true,
		}}, nil

	case !q.AllowMultiple:
		if req.Vote != "" || len(req.OptionIDs) > 0 || req.OptionID == 0 {
			return nil, models.ErrValidation
		}
		if !q.HasOption(req.OptionID) {
			return nil, models.ErrNotFound
		}
		optionID := req.OptionID
		return []models.Vote{{
			QuestionID:   q.ID,
			UserID:       userID,
			PollOptionID: &optionID,
			SingleChoice: true,
		}}, nil

	default:
		if req.Vote != "" || req.OptionID != 0 || len(req.OptionIDs) == 0 {
			return nil, models.ErrValidation
		}
		seen := make(map[uint]struct{}, len(req.OptionIDs))
		ballots := make([]models.Vote, 0, len(req.OptionIDs))
		for _, optionID := range req.OptionIDs {
			if _, dup := seen[optionID]; dup {
				continue
			}
			seen[optionID] = struct{}{}
			if !q.HasOption(optionID) {
				return nil, models.ErrNotFound
			}
			id := optionID
			ballots = append(ballots, models.Vote{
				QuestionID:   q.ID,
				UserID:       userID,
				PollOptionID: &id,
				SingleChoice: false,
			})
		}
		return ballots, nil
	}
}

// replaceBallots swaps the voter's entire ballot set for the question in one
// transaction. A partial failure rolls everything back, so no mixed old/new
// state is ever visible.
func (vc *VoteController) replaceBallots(questionID, userID uint, ballots []models.Vote) error {
	tx := vc.DB.Begin()
	if tx.Error != nil {
		return models.ErrTransport
	}

	if err := tx.Where("question_id = ? AND user_id = ?", questionID, userID).
		Delete(&models.Vote{}).Error; err != nil {
		tx.Rollback()
		vc.Logger.Printf("Failed to clear ballots for question %d user %d: %v", questionID, userID, err)
		return models.ErrTransport
	}
	for i := range ballots {
		if err := tx.Create(&ballots[i]).Error; err != nil {
			tx.Rollback()
			if models.IsDuplicateKey(err) {
				return models.ErrDuplicateVote
			}
			vc.Logger.Printf("Failed to insert ballot for question %d user %d: %v", questionID, userID, err)
			return models.ErrTransport
		}
	}
	if err := tx.Commit().Error; err != nil {
		if models.IsDuplicateKey(err) {
			return models.ErrDuplicateVote
		}
		vc.Logger.Printf("Failed to commit ballots for question %d user %d: %v", questionID, userID, err)
		return models.ErrTransport
	}
	return nil
}

func (vc *VoteController) renderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, models.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Ballot does not match the question type"})
	case errors.Is(err, models.ErrDuplicateVote):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": models.ErrDuplicateVote.Error()})
	case errors.Is(err, models.ErrAlreadyCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": models.ErrAlreadyCompleted.Error()})
	default:
		vc.Logger.Printf("Vote operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
