package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"quorum/events"
	"quorum/models"
	"quorum/utils"
)

type GroupController struct {
	DB        *gorm.DB
	Hub       *events.Hub
	Lifecycle *Lifecycle
	Logger    *log.Logger
}

func NewGroupController(db *gorm.DB, hub *events.Hub, lifecycle *Lifecycle, logger *log.Logger) *GroupController {
	return &GroupController{DB: db, Hub: hub, Lifecycle: lifecycle, Logger: logger}
}

type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

type AddMemberRequest struct {
	UserID uint   `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"omitempty,oneof=member chair admin"`
}

func (gc *GroupController) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
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

	group := models.Group{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := gc.DB.Create(&group).Error; err != nil {
		gc.Logger.Printf("Failed to create group: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create group",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(group)
}

func (gc *GroupController) GetGroups(c *fiber.Ctx) error {
	var groups []models.Group
	if err := gc.DB.Preload("Members").Find(&groups).Error; err != nil {
		gc.Logger.Printf("Failed to list groups: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch groups",
		})
	}
	return c.JSON(groups)
}

func (gc *GroupController) GetGroup(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid group id",
		})
	}

	var group models.Group
	if err := gc.DB.Preload("Members").Preload("Questions").First(&group, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Group not found",
		})
	}
	return c.JSON(group)
}

// AddMember creates the membership row and bumps the group's required_votes
// counter in the same transaction, so quorum never drifts from the roster.
func (gc *GroupController) AddMember(c *fiber.Ctx) error {
	groupID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid group id",
		})
	}

	var req AddMemberRequest
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
	role := req.Role
	if role == "" {
		role = "member"
	}

	var group models.Group
	if err := gc.DB.First(&group, groupID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Group not found",
		})
	}
	var user models.User
	if err := gc.DB.First(&user, req.UserID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	member := models.GroupMember{
		GroupID:  group.ID,
		UserID:   user.ID,
		Role:     role,
		JoinedAt: time.Now(),
	}

	tx := gc.DB.Begin()
	if err := tx.Create(&member).Error; err != nil {
		tx.Rollback()
		if models.IsDuplicateKey(err) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "User is already a member of this group",
			})
		}
		gc.Logger.Printf("Failed to add member to group %d: %v", group.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add member",
		})
	}
	if err := tx.Model(&models.Group{}).Where("id = ?", group.ID).
		UpdateColumn("required_votes", gorm.Expr("required_votes + ?", 1)).Error; err != nil {
		tx.Rollback()
		gc.Logger.Printf("Failed to bump required_votes for group %d: %v", group.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add member",
		})
	}
	if err := tx.Commit().Error; err != nil {
		gc.Logger.Printf("Failed to commit member add for group %d: %v", group.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add member",
		})
	}

	// The denominator moved; cached tallies for the group's open questions
	// are stale now.
	gc.Lifecycle.InvalidateGroupTallies(group.ID)
	gc.Hub.Publish(events.Event{
		Type:    events.MembershipChanged,
		GroupID: group.ID,
	})

	return c.Status(fiber.StatusCreated).JSON(member)
}

// RemoveMember deletes the membership row and decrements required_votes
// atomically. Past ballots of the removed member stay as they are.
func (gc *GroupController) RemoveMember(c *fiber.Ctx) error {
	groupID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid group id",
		})
	}
	userID, err := c.ParamsInt("userID")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}

	// Hard delete so the (group, user) pair can rejoin later without
	// tripping the membership unique index.
	tx := gc.DB.Begin()
	res := tx.Unscoped().Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.GroupMember{})
	if res.Error != nil {
		tx.Rollback()
		gc.Logger.Printf("Failed to remove member %d from group %d: %v", userID, groupID, res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove member",
		})
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Membership not found",
		})
	}
	if err := tx.Model(&models.Group{}).Where("id = ?", groupID).
		UpdateColumn("required_votes", gorm.Expr("required_votes - ?", 1)).Error; err != nil {
		tx.Rollback()
		gc.Logger.Printf("Failed to drop required_votes for group %d: %v", groupID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove member",
		})
	}
	if err := tx.Commit().Error; err != nil {
		gc.Logger.Printf("Failed to commit member removal for group %d: %v", groupID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove member",
		})
	}

	gc.Lifecycle.InvalidateGroupTallies(uint(groupID))
	gc.Hub.Publish(events.Event{
		Type:    events.MembershipChanged,
		GroupID: uint(groupID),
	})

	return c.JSON(fiber.Map{"message": "Member removed"})
}
