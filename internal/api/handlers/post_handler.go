package handlers

import (
	"log/slog"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/internal/scheduler"
	"github.com/maheshrc27/postpilot/internal/service"
	"github.com/maheshrc27/postpilot/internal/transfer"
)

type PostHandler struct {
	s   service.PostService
	sch scheduler.Scheduler
	pub *publisher.Publisher
}

func NewPostHandler(s service.PostService, sch scheduler.Scheduler, pub *publisher.Publisher) *PostHandler {
	return &PostHandler{s: s, sch: sch, pub: pub}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	pc := transfer.PostCreation{
		Caption:        c.FormValue("caption"),
		Title:          c.FormValue("title"),
		ScheduledAt:    c.FormValue("scheduled_at"),
		DeliveryMode:   c.FormValue("delivery_mode"),
		Targets:        c.FormValue("targets"),
		Keywords:       c.FormValue("keywords"),
		ReplyTemplates: c.FormValue("reply_templates"),
		ReplyPrivate:   c.FormValue("reply_private") == "true",
	}

	postID, scheduledAt, err := h.s.CreatePost(c.Context(), userID, &pc, groupMediaFiles(form))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Notify-mode posts are picked up by the sweep alone; only auto posts
	// get a delayed queue job.
	if scheduledAt != nil && pc.DeliveryMode != models.DeliveryModeNotify {
		if err := h.sch.Schedule(c.Context(), postID, *scheduledAt); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Error scheduling post",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post created successfully",
		"post_id": postID,
	})
}

// groupMediaFiles splits uploaded files into the default set ("files") and
// per-platform override sets ("files_twitter", "files_instagram", ...).
func groupMediaFiles(form *multipart.Form) service.MediaUpload {
	media := make(service.MediaUpload)
	for field, files := range form.File {
		if len(files) == 0 {
			continue
		}
		switch {
		case field == "files":
			media[""] = files
		case strings.HasPrefix(field, "files_"):
			media[strings.TrimPrefix(field, "files_")] = files
		}
	}
	return media
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if postId != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postId), userId)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to list posts",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// PublishNow runs the fan-out immediately, bypassing the schedule. The same
// claim the schedulers use makes this safe to race against them.
func (h *PostHandler) PublishNow(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if _, err := h.s.PostInfo(c.Context(), int64(postId), userID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Post doesn't exist",
		})
	}

	results, err := h.pub.Publish(c.Context(), int64(postId))
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.sch.Cancel(c.Context(), int64(postId)); err != nil {
		slog.Info(err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(targetResponses(results))
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if err := h.s.Remove(c.Context(), userID, int64(postId)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	if err := h.sch.Cancel(c.Context(), int64(postId)); err != nil {
		slog.Info(err.Error())
	}

	return c.SendStatus(fiber.StatusOK)
}

func targetResponses(results []publisher.TargetResult) []transfer.TargetResultResponse {
	responses := make([]transfer.TargetResultResponse, 0, len(results))
	for _, r := range results {
		responses = append(responses, transfer.TargetResultResponse{
			Platform:     r.Platform,
			OK:           r.OK,
			MediaSkipped: r.MediaSkipped,
			Error:        r.Error,
		})
	}
	return responses
}
