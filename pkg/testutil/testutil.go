// Package testutil provides shared helpers for the pipeline's tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/linksmith/chrono-scraper-sub007/pkg/models"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the
// specified timeout, polling every 10ms.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// OperationalRecord builds a plausible scrape record for tests. The id
// doubles as a deterministic seed for the varying fields.
func OperationalRecord(id int64, lastMutated time.Time) models.OperationalRecord {
	return models.OperationalRecord{
		ID:               id,
		URL:              "https://example.org/articles/" + time.Unix(id, 0).UTC().Format("2006/01/02"),
		FinalURL:         "",
		Status:           models.StatusOK,
		HTTPStatus:       200,
		FetchedAt:        lastMutated.Add(-2 * time.Second),
		LastMutated:      lastMutated,
		ContentType:      "text/html",
		ContentLength:    1024 + id%4096,
		ExtractionMethod: "readability",
		SourceKind:       "crawl",
		QualityScore:     0.5,
		PriorityScore:    0.25,
	}
}
