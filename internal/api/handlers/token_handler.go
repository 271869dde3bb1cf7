package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/internal/repository"
)

// TokenHandler serves the composer page behind notify-mode emails. No session
// is required; possession of an unexpired single-use token is the credential.
type TokenHandler struct {
	tokens  repository.PublishTokenRepository
	posts   repository.PostRepository
	targets repository.PostTargetRepository
	pub     *publisher.Publisher
}

func NewTokenHandler(
	tokens repository.PublishTokenRepository,
	posts repository.PostRepository,
	targets repository.PostTargetRepository,
	pub *publisher.Publisher) *TokenHandler {
	return &TokenHandler{tokens: tokens, posts: posts, targets: targets, pub: pub}
}

func (h *TokenHandler) lookup(c *fiber.Ctx) (*models.PublishToken, error) {
	token, err := h.tokens.GetByToken(c.Context(), c.Params("token"))
	if err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to look up token",
		})
	}
	if token == nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown publish link",
		})
	}
	if token.Used() {
		return nil, c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This publish link was already used",
		})
	}
	if token.Expired(time.Now()) {
		return nil, c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This publish link has expired",
		})
	}
	return token, nil
}

// GetPost returns the post and its targets for the review screen.
func (h *TokenHandler) GetPost(c *fiber.Ctx) error {
	token, errResp := h.lookup(c)
	if token == nil {
		return errResp
	}

	post, err := h.posts.GetByID(c.Context(), token.PostID)
	if err != nil || post == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post doesn't exist",
		})
	}

	targets, err := h.targets.ListByPostID(c.Context(), token.PostID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load targets",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"post":    post,
		"targets": targets,
	})
}

type captionUpdate struct {
	Caption string          `json:"caption"`
	Targets []captionTarget `json:"targets"`
}

type captionTarget struct {
	TargetID int64  `json:"target_id"`
	Caption  string `json:"caption"`
}

// UpdateCaptions lets the reviewer touch up the shared caption and the
// per-target overrides before publishing. The token stays valid: editing does
// not burn it.
func (h *TokenHandler) UpdateCaptions(c *fiber.Ctx) error {
	token, errResp := h.lookup(c)
	if token == nil {
		return errResp
	}

	var update captionUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	if update.Caption != "" {
		if err := h.posts.UpdateCaption(c.Context(), token.PostID, update.Caption); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to update caption",
			})
		}
	}

	targets, err := h.targets.ListByPostID(c.Context(), token.PostID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to load targets",
		})
	}
	owned := make(map[int64]struct{}, len(targets))
	for _, t := range targets {
		owned[t.ID] = struct{}{}
	}

	for _, t := range update.Targets {
		if _, ok := owned[t.TargetID]; !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Target doesn't belong to this post",
			})
		}
		if err := h.targets.SetCaptionOverride(c.Context(), t.TargetID, t.Caption); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to update target caption",
			})
		}
	}

	return c.SendStatus(fiber.StatusOK)
}

// Publish burns the token and runs the fan-out. Burning first is what makes
// the link single-use even when two clicks race.
func (h *TokenHandler) Publish(c *fiber.Ctx) error {
	token, errResp := h.lookup(c)
	if token == nil {
		return errResp
	}

	burned, err := h.tokens.MarkUsed(c.Context(), token.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to use token",
		})
	}
	if !burned {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error": "This publish link was already used",
		})
	}

	results, err := h.pub.Publish(c.Context(), token.PostID)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(targetResponses(results))
}
