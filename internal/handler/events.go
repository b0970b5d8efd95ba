package handler

import (
	"log"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/podbrief/api/internal/model"
	"github.com/podbrief/api/internal/service"
	"github.com/podbrief/api/pkg/response"
)

// EventsHandler accepts storage bucket notifications and turns object-created
// records into workflow starts
type EventsHandler struct {
	service      *service.WorkflowService
	uploadPrefix string
}

func NewEventsHandler(svc *service.WorkflowService, uploadPrefix string) *EventsHandler {
	return &EventsHandler{
		service:      svc,
		uploadPrefix: uploadPrefix,
	}
}

// ObjectCreated handles POST /events/object-created. Notification delivery is
// at-least-once, so duplicate records may arrive; dedup happens in the service.
func (h *EventsHandler) ObjectCreated(c *fiber.Ctx) error {
	var event model.StorageEvent
	if err := c.BodyParser(&event); err != nil {
		return response.ValidationError(c, "Invalid event body", nil)
	}

	result := model.StorageEventResponse{}

	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key := record.S3.Object.Key

		// Keys arrive URL-encoded, with spaces as "+"
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}

		if bucket == "" || key == "" {
			result.Skipped++
			continue
		}

		if h.uploadPrefix != "" && !strings.HasPrefix(key, h.uploadPrefix) {
			log.Printf("Ignoring object outside upload prefix: %s", key)
			result.Skipped++
			continue
		}

		if strings.HasSuffix(key, "/") {
			result.Skipped++
			continue
		}

		start, err := h.service.Start(c.Context(), model.ObjectRef{
			Bucket:  bucket,
			Key:     key,
			Version: record.S3.Object.VersionID,
		})
		if err != nil {
			log.Printf("Failed to start workflow for %s/%s: %v", bucket, key, err)
			result.Skipped++
			continue
		}

		if start.Deduplicated {
			result.Skipped++
		} else {
			result.Started++
		}
	}

	return response.OK(c, result)
}
