package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	controller "quorum/controllers"
	"quorum/models"
)

// DeadlineWorker sweeps open questions whose deadline has passed and closes
// them with the deadline completion method. Casts racing the sweep are
// handled by the lifecycle: a completed question rejects further ballots.
type DeadlineWorker struct {
	DB        *gorm.DB
	Lifecycle *controller.Lifecycle
	Interval  time.Duration
	Logger    *log.Logger
}

func NewDeadlineWorker(db *gorm.DB, lifecycle *controller.Lifecycle, interval time.Duration, logger *log.Logger) *DeadlineWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DeadlineWorker{
		DB:        db,
		Lifecycle: lifecycle,
		Interval:  interval,
		Logger:    logger,
	}
}

func (dw *DeadlineWorker) Start(ctx context.Context) {
	dw.Logger.Println("Deadline worker started")

	ticker := time.NewTicker(dw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Println("Deadline worker shutting down...")
			return
		case <-ticker.C:
			dw.sweep()
		}
	}
}

func (dw *DeadlineWorker) sweep() {
	var expired []models.Question
	err := dw.DB.
		Where("status = ? AND deadline IS NOT NULL AND deadline < ?",
			models.QuestionStatusOpen, time.Now()).
		Find(&expired).Error
	if err != nil {
		dw.Logger.Printf("Error fetching expired questions: %v", err)
		return
	}

	for _, question := range expired {
		err := dw.Lifecycle.Complete(question.ID, models.CompletionDeadline)
		if err != nil && !errors.Is(err, models.ErrAlreadyCompleted) {
			dw.Logger.Printf("Error closing question %d on deadline: %v", question.ID, err)
		}
	}
}
