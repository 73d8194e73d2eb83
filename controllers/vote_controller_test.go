package controller_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	controller "quorum/controllers"
	"quorum/models"
)

func castVote(t *testing.T, app *fiber.App, token string, questionID uint, body controller.CastVoteRequest) *http.Response {
	t.Helper()
	return doRequest(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/questions/%d/vote", questionID), token, body)
}

// A repeat cast on a standard question replaces the ballot; exactly one row
// remains and it carries the new value.
func TestStandardVoteReplace(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "board", 3)
	token := tokenFor(t, users[0])

	question := createStandardQuestion(t, app, token, group.ID, "Budget approval")

	resp := castVote(t, app, token, question.ID, controller.CastVoteRequest{Vote: models.VoteYes})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("First cast returned %d", resp.StatusCode)
	}
	resp = castVote(t, app, token, question.ID, controller.CastVoteRequest{Vote: models.VoteNo})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Replacement cast returned %d", resp.StatusCode)
	}

	if n := countBallots(t, db, question.ID, users[0].ID); n != 1 {
		t.Errorf("Ballot count = %d, want 1", n)
	}
	var ballot models.Vote
	if err := db.Where("question_id = ? AND user_id = ?", question.ID, users[0].ID).
		First(&ballot).Error; err != nil {
		t.Fatalf("Failed to load ballot: %v", err)
	}
	if ballot.Value == nil || *ballot.Value != models.VoteNo {
		t.Errorf("Ballot value = %v, want no", ballot.Value)
	}
	if ballot.PollOptionID != nil {
		t.Error("Standard ballot must not reference a poll option")
	}
}

// Resubmitting a multi-select ballot replaces the entire set, never merges.
func TestMultiSelectAtomicReplace(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "owners", 3)
	token := tokenFor(t, users[0])

	poll := createPoll(t, app, token, group.ID, "Amenities", true, "Sauna", "Gym", "Library")
	optionID := func(i int) uint { return poll.Options[i].ID }

	resp := castVote(t, app, token, poll.ID, controller.CastVoteRequest{
		OptionIDs: []uint{optionID(0), optionID(1)},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("First cast returned %d", resp.StatusCode)
	}
	if n := countBallots(t, db, poll.ID, users[0].ID); n != 2 {
		t.Fatalf("Ballot count after first cast = %d, want 2", n)
	}

	resp = castVote(t, app, token, poll.ID, controller.CastVoteRequest{
		OptionIDs: []uint{optionID(2)},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Replacement cast returned %d", resp.StatusCode)
	}

	var ballots []models.Vote
	if err := db.Where("question_id = ? AND user_id = ?", poll.ID, users[0].ID).
		Find(&ballots).Error; err != nil {
		t.Fatalf("Failed to load ballots: %v", err)
	}
	if len(ballots) != 1 {
		t.Fatalf("Ballot count = %d, want 1", len(ballots))
	}
	if ballots[0].PollOptionID == nil || *ballots[0].PollOptionID != optionID(2) {
		t.Errorf("Remaining ballot references %v, want option %d", ballots[0].PollOptionID, optionID(2))
	}
}

func TestSingleSelectReplace(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "street", 3)
	token := tokenFor(t, users[0])

	poll := createPoll(t, app, token, group.ID, "Venue choice", false, "Hall", "Garden", "Roof")

	resp := castVote(t, app, token, poll.ID, controller.CastVoteRequest{OptionID: poll.Options[0].ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("First cast returned %d", resp.StatusCode)
	}
	resp = castVote(t, app, token, poll.ID, controller.CastVoteRequest{OptionID: poll.Options[1].ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Replacement cast returned %d", resp.StatusCode)
	}

	if n := countBallots(t, db, poll.ID, users[0].ID); n != 1 {
		t.Errorf("Ballot count = %d, want 1", n)
	}
}

// Once every group member has voted, the question completes with the
// threshold method and the result is frozen.
func TestThresholdAutoClose(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "committee", 2)

	question := createStandardQuestion(t, app, tokenFor(t, users[0]), group.ID, "Repaint hallway")

	castVote(t, app, tokenFor(t, users[0]), question.ID, controller.CastVoteRequest{Vote: models.VoteYes})
	castVote(t, app, tokenFor(t, users[1]), question.ID, controller.CastVoteRequest{Vote: models.VoteYes})

	var reloaded models.Question
	if err := db.First(&reloaded, question.ID).Error; err != nil {
		t.Fatalf("Failed to reload question: %v", err)
	}
	if reloaded.Status != models.QuestionStatusCompleted {
		t.Fatalf("Status = %q, want completed", reloaded.Status)
	}
	if reloaded.CompletionMethod != models.CompletionThreshold {
		t.Errorf("Completion method = %q, want threshold", reloaded.CompletionMethod)
	}
	if reloaded.DecidedResult == nil || *reloaded.DecidedResult != models.ResultApproved {
		t.Errorf("Decided result = %v, want approved", reloaded.DecidedResult)
	}
	if reloaded.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// The completed question rejects further ballots.
	resp := castVote(t, app, tokenFor(t, users[0]), question.ID, controller.CastVoteRequest{Vote: models.VoteNo})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Cast on completed question returned %d, want 409", resp.StatusCode)
	}
}

func TestVoteShapeMismatchRejected(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "shape", 3)
	token := tokenFor(t, users[0])

	question := createStandardQuestion(t, app, token, group.ID, "Standard")
	poll := createPoll(t, app, token, group.ID, "Poll", false, "A", "B")

	tests := []struct {
		name       string
		questionID uint
		body       controller.CastVoteRequest
	}{
		{"option ballot on standard question", question.ID, controller.CastVoteRequest{OptionID: 1}},
		{"bad vote value", question.ID, controller.CastVoteRequest{Vote: "maybe"}},
		{"value ballot on poll", poll.ID, controller.CastVoteRequest{Vote: models.VoteYes}},
		{"multi ballot on single-select poll", poll.ID, controller.CastVoteRequest{OptionIDs: []uint{1, 2}}},
		{"empty body", poll.ID, controller.CastVoteRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := castVote(t, app, token, tt.questionID, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestVoteOnUnknownOptionRejected(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "stray", 3)
	token := tokenFor(t, users[0])

	poll := createPoll(t, app, token, group.ID, "Poll", false, "A", "B")

	resp := castVote(t, app, token, poll.ID, controller.CastVoteRequest{OptionID: 9999})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

// A cast arriving after the deadline closes the question and is rejected.
func TestVoteAfterDeadlineClosesQuestion(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "late", 3)
	token := tokenFor(t, users[0])

	question := createStandardQuestion(t, app, token, group.ID, "Expired")
	past := time.Now().Add(-time.Hour)
	if err := db.Model(&models.Question{}).Where("id = ?", question.ID).
		Update("deadline", past).Error; err != nil {
		t.Fatalf("Failed to backdate deadline: %v", err)
	}

	resp := castVote(t, app, token, question.ID, controller.CastVoteRequest{Vote: models.VoteYes})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Cast after deadline returned %d, want 409", resp.StatusCode)
	}

	var reloaded models.Question
	if err := db.First(&reloaded, question.ID).Error; err != nil {
		t.Fatalf("Failed to reload question: %v", err)
	}
	if reloaded.Status != models.QuestionStatusCompleted {
		t.Errorf("Status = %q, want completed", reloaded.Status)
	}
	if reloaded.CompletionMethod != models.CompletionDeadline {
		t.Errorf("Completion method = %q, want deadline", reloaded.CompletionMethod)
	}
	if n := countBallots(t, db, question.ID, users[0].ID); n != 0 {
		t.Errorf("Ballot count = %d, want 0", n)
	}
}

// The partial unique indexes are the store-level serialization point for
// racing casts: a second identical ballot insert that slips past the replace
// transaction must fail as a duplicate key, leaving exactly one row.
func TestDuplicateBallotInsertRejected(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "race", 3)
	token := tokenFor(t, users[0])

	t.Run("single-choice ballot", func(t *testing.T) {
		question := createStandardQuestion(t, app, token, group.ID, "Racing casts")

		value := models.VoteYes
		first := models.Vote{
			QuestionID:   question.ID,
			UserID:       users[0].ID,
			Value:        &value,
			SingleChoice: true,
		}
		if err := db.Create(&first).Error; err != nil {
			t.Fatalf("First insert failed: %v", err)
		}

		second := models.Vote{
			QuestionID:   question.ID,
			UserID:       users[0].ID,
			Value:        &value,
			SingleChoice: true,
		}
		err := db.Create(&second).Error
		if err == nil {
			t.Fatal("Second insert succeeded, want duplicate key error")
		}
		if !models.IsDuplicateKey(err) {
			t.Errorf("Second insert failed with %v, want duplicate key", err)
		}
		if n := countBallots(t, db, question.ID, users[0].ID); n != 1 {
			t.Errorf("Ballot count = %d, want 1", n)
		}
	})

	t.Run("multi-select option ballot", func(t *testing.T) {
		poll := createPoll(t, app, token, group.ID, "Racing options", true, "A", "B")

		optionID := poll.Options[0].ID
		first := models.Vote{
			QuestionID:   poll.ID,
			UserID:       users[0].ID,
			PollOptionID: &optionID,
		}
		if err := db.Create(&first).Error; err != nil {
			t.Fatalf("First insert failed: %v", err)
		}

		second := models.Vote{
			QuestionID:   poll.ID,
			UserID:       users[0].ID,
			PollOptionID: &optionID,
		}
		err := db.Create(&second).Error
		if err == nil {
			t.Fatal("Second insert succeeded, want duplicate key error")
		}
		if !models.IsDuplicateKey(err) {
			t.Errorf("Second insert failed with %v, want duplicate key", err)
		}
		if n := countBallots(t, db, poll.ID, users[0].ID); n != 1 {
			t.Errorf("Ballot count = %d, want 1", n)
		}
	})
}

// The front-runner snapshot follows ballot replacements while the poll is
// open.
func TestPollFrontRunnerSnapshot(t *testing.T) {
	app, db, _ := newTestApp(t)
	group, users := createGroupWithMembers(t, db, "runner", 4)

	poll := createPoll(t, app, tokenFor(t, users[0]), group.ID, "Venue", false, "Hall", "Garden")

	castVote(t, app, tokenFor(t, users[0]), poll.ID, controller.CastVoteRequest{OptionID: poll.Options[1].ID})

	var reloaded models.Question
	if err := db.First(&reloaded, poll.ID).Error; err != nil {
		t.Fatalf("Failed to reload poll: %v", err)
	}
	if reloaded.WinningOptionID == nil || *reloaded.WinningOptionID != poll.Options[1].ID {
		t.Errorf("Front-runner = %v, want option %d", reloaded.WinningOptionID, poll.Options[1].ID)
	}

	// The single voter switches; the snapshot must follow.
	castVote(t, app, tokenFor(t, users[0]), poll.ID, controller.CastVoteRequest{OptionID: poll.Options[0].ID})
	if err := db.First(&reloaded, poll.ID).Error; err != nil {
		t.Fatalf("Failed to reload poll: %v", err)
	}
	if reloaded.WinningOptionID == nil || *reloaded.WinningOptionID != poll.Options[0].ID {
		t.Errorf("Front-runner = %v, want option %d", reloaded.WinningOptionID, poll.Options[0].ID)
	}
}
