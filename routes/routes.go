package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "quorum/controllers"
	"quorum/events"
	"quorum/middleware"
)

// SetupRoutes wires the controllers. The hub and lifecycle are shared handles
// created in main; controllers get them explicitly instead of reaching for
// globals.
func SetupRoutes(app *fiber.App, db *gorm.DB, hub *events.Hub, lifecycle *controller.Lifecycle) {
	authController := controller.NewAuthController(db, log.New(os.Stdout, "AUTH: ", log.LstdFlags))
	groupController := controller.NewGroupController(db, hub, lifecycle, log.New(os.Stdout, "GROUP: ", log.LstdFlags))
	questionController := controller.NewQuestionController(db, hub, lifecycle, log.New(os.Stdout, "QUESTION: ", log.LstdFlags))
	voteController := controller.NewVoteController(db, hub, lifecycle, log.New(os.Stdout, "VOTE: ", log.LstdFlags))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public auth endpoints, rate limited against brute forcing
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	auth.Post("/register", middleware.AuthRateLimiter(10), authController.Register)
	auth.Post("/login", middleware.AuthRateLimiter(10), authController.Login)
	auth.Post("/refresh", authController.RefreshToken)

	protectedAuth := auth.Group("", middleware.Protected(db))
	protectedAuth.Get("/me", authController.GetCurrentUser)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(db), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Group routes
	group := api.Group("/groups")
	group.Post("/", groupController.CreateGroup)
	group.Get("/", groupController.GetGroups)
	group.Get("/:id", groupController.GetGroup)
	group.Post("/:id/members", groupController.AddMember)
	group.Delete("/:id/members/:userID", groupController.RemoveMember)
	group.Post("/:id/questions", questionController.CreateQuestion)

	// Question routes
	question := api.Group("/questions")
	question.Get("/:id", questionController.GetQuestion)
	question.Put("/:id", questionController.UpdateQuestion)
	question.Post("/:id/close", questionController.CloseQuestion)
	question.Delete("/:id", questionController.DeleteQuestion)
	question.Post("/:id/vote", voteController.CastVote)

	// Realtime invalidation channel, behind the same auth guard as the rest
	// of the API
	api.Get("/events", websocket.New(
		controller.HandleEventsWS(hub, log.New(os.Stdout, "WS: ", log.LstdFlags))))

	log.Println("API routes initialized")
}
