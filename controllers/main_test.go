package controller_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"quorum/config"
	controller "quorum/controllers"
	"quorum/events"
	"quorum/models"
	"quorum/routes"
	"quorum/utils"
)

// newTestApp wires the real routes against an in-memory SQLite database so
// the ballot uniqueness indexes and transactions behave like production.
func newTestApp(t *testing.T) (*fiber.App, *gorm.DB, *events.Hub) {
	t.Helper()
	return newTestAppWithCache(t, nil)
}

func newTestAppWithCache(t *testing.T, cache *redis.Client) (*fiber.App, *gorm.DB, *events.Hub) {
	t.Helper()

	config.AppConfig.JWTSecret = "test-secret"

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get test database handle: %v", err)
	}
	// One connection so every session sees the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	hub := events.NewHub(nil)
	quiet := log.New(io.Discard, "", 0)
	lifecycle := controller.NewLifecycle(db, hub, cache, nil, quiet)

	app := fiber.New()
	routes.SetupRoutes(app, db, hub, lifecycle)

	return app, db, hub
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := models.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         email,
		IsActive:     true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	return &user
}

func tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	access, _, err := utils.GenerateJWTTokens(user)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return access
}

// createGroupWithMembers seeds a group with n member users directly; the
// denormalized counter is set to match, exactly as the API would leave it.
func createGroupWithMembers(t *testing.T, db *gorm.DB, name string, n int) (*models.Group, []*models.User) {
	t.Helper()

	group := models.Group{Name: name, RequiredVotes: n}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}

	users := make([]*models.User, 0, n)
	for i := 0; i < n; i++ {
		user := createUser(t, db, fmt.Sprintf("%s-member-%d@example.com", name, i))
		member := models.GroupMember{
			GroupID:  group.ID,
			UserID:   user.ID,
			Role:     "member",
			JoinedAt: time.Now(),
		}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("Failed to create membership: %v", err)
		}
		users = append(users, user)
	}
	return &group, users
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// createStandardQuestion and createPoll go through the HTTP surface so the
// fixtures exercise the same path production does.
func createStandardQuestion(t *testing.T, app *fiber.App, token string, groupID uint, title string) *models.Question {
	t.Helper()

	resp := doRequest(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/groups/%d/questions", groupID), token,
		controller.CreateQuestionRequest{
			Title:        title,
			QuestionType: models.QuestionTypeStandard,
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create question returned %d", resp.StatusCode)
	}
	var question models.Question
	decodeBody(t, resp, &question)
	return &question
}

func createPoll(t *testing.T, app *fiber.App, token string, groupID uint, title string, allowMultiple bool, labels ...string) *models.Question {
	t.Helper()

	options := make([]controller.QuestionOptionInput, len(labels))
	for i, label := range labels {
		options[i] = controller.QuestionOptionInput{Label: label}
	}
	resp := doRequest(t, app, http.MethodPost,
		fmt.Sprintf("/api/v1/groups/%d/questions", groupID), token,
		controller.CreateQuestionRequest{
			Title:         title,
			QuestionType:  models.QuestionTypePoll,
			AllowMultiple: allowMultiple,
			Options:       options,
		})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create poll returned %d", resp.StatusCode)
	}
	var question models.Question
	decodeBody(t, resp, &question)
	return &question
}

func countBallots(t *testing.T, db *gorm.DB, questionID, userID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Vote{}).
		Where("question_id = ? AND user_id = ?", questionID, userID).
		Count(&n).Error; err != nil {
		t.Fatalf("Failed to count ballots: %v", err)
	}
	return n
}
