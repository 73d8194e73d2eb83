package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"quorum/events"
	"quorum/models"
	"quorum/utils"
)

type QuestionController struct {
	DB        *gorm.DB
	Hub       *events.Hub
	Lifecycle *Lifecycle
	Logger    *log.Logger
}

func NewQuestionController(db *gorm.DB, hub *events.Hub, lifecycle *Lifecycle, logger *log.Logger) *QuestionController {
	return &QuestionController{DB: db, Hub: hub, Lifecycle: lifecycle, Logger: logger}
}

type QuestionOptionInput struct {
	Label       string `json:"label" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

type CreateQuestionRequest struct {
	Title         string                `json:"title" validate:"required,max=300"`
	Description   string                `json:"description" validate:"omitempty,max=5000"`
	QuestionType  string                `json:"question_type" validate:"required,oneof=standard poll"`
	AllowMultiple bool                  `json:"allow_multiple"`
	Deadline      *time.Time            `json:"deadline"`
	Options       []QuestionOptionInput `json:"options" validate:"omitempty,dive"`
}

type UpdateQuestionRequest struct {
	Title       *string               `json:"title" validate:"omitempty,max=300"`
	Description *string               `json:"description" validate:"omitempty,max=5000"`
	Deadline    *time.Time            `json:"deadline"`
	Options     []QuestionOptionInput `json:"options" validate:"omitempty,dive"`
}

// QuestionWithTally is the typed aggregate callers fetch: the question, its
// options and the current tally in one value.
type QuestionWithTally struct {
	Question *models.Question `json:"question"`
	Tally    interface{}      `json:"tally"`
}

func (qc *QuestionController) CreateQuestion(c *fiber.Ctx) error {
	groupID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid group id",
		})
	}

	var req CreateQuestionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if req.QuestionType == models.QuestionTypePoll && len(req.Options) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A poll needs at least 2 options",
		})
	}
	if req.QuestionType == models.QuestionTypeStandard && (len(req.Options) > 0 || req.AllowMultiple) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A standard question takes no options",
		})
	}

	var group models.Group
	if err := qc.DB.First(&group, groupID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Group not found",
		})
	}

	question := models.Question{
		GroupID:       group.ID,
		Title:         req.Title,
		Description:   req.Description,
		Status:        models.QuestionStatusOpen,
		QuestionType:  req.QuestionType,
		AllowMultiple: req.AllowMultiple,
		Deadline:      req.Deadline,
	}

	tx := qc.DB.Begin()
	if err := tx.Create(&question).Error; err != nil {
		tx.Rollback()
		qc.Logger.Printf("Failed to create question: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create question",
		})
	}
	for i, opt := range req.Options {
		option := models.PollOption{
			QuestionID:  question.ID,
			Label:       opt.Label,
			Description: opt.Description,
			SortOrder:   i,
		}
		if err := tx.Create(&option).Error; err != nil {
			tx.Rollback()
			qc.Logger.Printf("Failed to create option for question %d: %v", question.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create question",
			})
		}
		question.Options = append(question.Options, option)
	}
	if err := tx.Commit().Error; err != nil {
		qc.Logger.Printf("Failed to commit question create: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create question",
		})
	}

	qc.Hub.Publish(events.Event{
		Type:       events.QuestionCreated,
		GroupID:    group.ID,
		QuestionID: question.ID,
	})

	return c.Status(fiber.StatusCreated).JSON(question)
}

// GetQuestion fetches the question with its live tally. Responses are served
// from the Redis cache when enabled; ballot casts and closes invalidate it.
func (qc *QuestionController) GetQuestion(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question id",
		})
	}

	if data := qc.Lifecycle.CachedTally(uint(id)); data != nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	}

	question, err := qc.Lifecycle.LoadAggregate(qc.DB, uint(id))
	if err != nil {
		return qc.renderError(c, err)
	}

	payload := QuestionWithTally{
		Question: question,
		Tally:    Tally(question),
	}
	qc.Lifecycle.StoreTally(question.ID, payload)

	return c.JSON(payload)
}

// UpdateQuestion edits title/description/deadline and (for polls) replaces
// the option list. Blocked once any ballot exists or the question completed:
// a question under vote cannot be redefined mid-flight.
func (qc *QuestionController) UpdateQuestion(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question id",
		})
	}

	var req UpdateQuestionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var question models.Question
	if err := qc.DB.First(&question, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Question not found",
		})
	}
	if !question.IsOpen() {
		return qc.renderError(c, models.ErrAlreadyCompleted)
	}

	var ballotCount int64
	if err := qc.DB.Model(&models.Vote{}).Where("question_id = ?", question.ID).
		Count(&ballotCount).Error; err != nil {
		qc.Logger.Printf("Failed to count ballots for question %d: %v", question.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update question",
		})
	}
	if ballotCount > 0 {
		return qc.renderError(c, models.ErrQuestionLocked)
	}

	if question.IsPoll() && req.Options != nil && len(req.Options) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A poll needs at least 2 options",
		})
	}
	if !question.IsPoll() && len(req.Options) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A standard question takes no options",
		})
	}

	if req.Title != nil {
		question.Title = *req.Title
	}
	if req.Description != nil {
		question.Description = *req.Description
	}
	if req.Deadline != nil {
		question.Deadline = req.Deadline
	}

	tx := qc.DB.Begin()
	if err := tx.Save(&question).Error; err != nil {
		tx.Rollback()
		qc.Logger.Printf("Failed to update question %d: %v", question.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update question",
		})
	}
	if question.IsPoll() && req.Options != nil {
		if err := tx.Where("question_id = ?", question.ID).
			Delete(&models.PollOption{}).Error; err != nil {
			tx.Rollback()
			qc.Logger.Printf("Failed to replace options for question %d: %v", question.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update question",
			})
		}
		for i, opt := range req.Options {
			option := models.PollOption{
				QuestionID:  question.ID,
				Label:       opt.Label,
				Description: opt.Description,
				SortOrder:   i,
			}
			if err := tx.Create(&option).Error; err != nil {
				tx.Rollback()
				qc.Logger.Printf("Failed to replace options for question %d: %v", question.ID, err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Failed to update question",
				})
			}
		}
	}
	if err := tx.Commit().Error; err != nil {
		qc.Logger.Printf("Failed to commit question update: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update question",
		})
	}

	qc.Lifecycle.InvalidateTally(question.ID)
	qc.Hub.Publish(events.Event{
		Type:       events.QuestionUpdated,
		GroupID:    question.GroupID,
		QuestionID: question.ID,
	})

	updated, err := qc.Lifecycle.LoadAggregate(qc.DB, question.ID)
	if err != nil {
		return qc.renderError(c, err)
	}
	return c.JSON(updated)
}

// CloseQuestion is the manual completion trigger.
func (qc *QuestionController) CloseQuestion(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question id",
		})
	}

	if err := qc.Lifecycle.Complete(uint(id), models.CompletionManual); err != nil {
		return qc.renderError(c, err)
	}

	question, err := qc.Lifecycle.LoadAggregate(qc.DB, uint(id))
	if err != nil {
		return qc.renderError(c, err)
	}
	return c.JSON(QuestionWithTally{
		Question: question,
		Tally:    Tally(question),
	})
}

// DeleteQuestion is permitted at any status and cascades to ballots and
// options.
func (qc *QuestionController) DeleteQuestion(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question id",
		})
	}

	var question models.Question
	if err := qc.DB.First(&question, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Question not found",
		})
	}

	tx := qc.DB.Begin()
	if err := tx.Where("question_id = ?", question.ID).Delete(&models.Vote{}).Error; err != nil {
		tx.Rollback()
		qc.Logger.Printf("Failed to delete ballots for question %d: %v", question.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete question",
		})
	}
	if err := tx.Where("question_id = ?", question.ID).Delete(&models.PollOption{}).Error; err != nil {
		tx.Rollback()
		qc.Logger.Printf("Failed to delete options for question %d: %v", question.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete question",
		})
	}
	if err := tx.Delete(&question).Error; err != nil {
		tx.Rollback()
		qc.Logger.Printf("Failed to delete question %d: %v", question.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete question",
		})
	}
	if err := tx.Commit().Error; err != nil {
		qc.Logger.Printf("Failed to commit question delete: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete question",
		})
	}

	qc.Lifecycle.InvalidateTally(question.ID)
	qc.Hub.Publish(events.Event{
		Type:       events.QuestionDeleted,
		GroupID:    question.GroupID,
		QuestionID: question.ID,
	})

	return c.JSON(fiber.Map{"message": "Question deleted"})
}

func (qc *QuestionController) renderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Question not found"})
	case errors.Is(err, models.ErrAlreadyCompleted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": models.ErrAlreadyCompleted.Error()})
	case errors.Is(err, models.ErrQuestionLocked):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": models.ErrQuestionLocked.Error()})
	default:
		qc.Logger.Printf("Question operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
}
