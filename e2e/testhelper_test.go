package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/podbrief/api/internal/auth"
	"github.com/podbrief/api/internal/handler"
	"github.com/podbrief/api/internal/middleware"
	"github.com/podbrief/api/internal/service"
	"github.com/podbrief/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// noopScheduler accepts step enqueues without a worker behind them, so started
// executions stay in their initial state for the duration of a test.
type noopScheduler struct {
	enqueued int
}

func (s *noopScheduler) ScheduleStep(_ context.Context, _ string, _ time.Duration) error {
	s.enqueued++
	return nil
}

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	store     *store.RedisStore
	scheduler *noopScheduler
}

// setupApp creates a Fiber app wired like main.go, backed by an in-process
// redis so tests need no external services.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	validate := validator.New()

	execStore := store.NewRedisStore(redisClient, time.Hour)
	scheduler := &noopScheduler{}

	workflowService := service.NewWorkflowService(execStore, scheduler, 30*time.Minute, "summaries-bucket")

	workflowHandler := handler.NewWorkflowHandler(workflowService, validate)
	eventsHandler := handler.NewEventsHandler(workflowService, "uploads/")

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/events/object-created", eventsHandler.ObjectCreated)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high rate limits so tests don't get blocked
	workflows := api.Group("/workflows")
	workflows.Post("/start", rateLimiter.StartLimit(10000), workflowHandler.Start)
	workflows.Get("/status/:executionId", workflowHandler.Status)
	workflows.Get("/result/:executionId", workflowHandler.Result)
	workflows.Get("/history/:executionId", workflowHandler.History)

	return &testApp{app: app, store: execStore, scheduler: scheduler}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "podbrief-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(b, &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, string(b))
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
