package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if tasksTotal == nil || jobsTotal == nil || articlesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveTask(t *testing.T) {
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("scrape_project", "succeeded"))
	ObserveTask("scrape_project", "succeeded", 2*time.Second)
	after := testutil.ToFloat64(tasksTotal.WithLabelValues("scrape_project", "succeeded"))
	if after-before != 1 {
		t.Errorf("expected tasks counter to grow by 1, got %f", after-before)
	}
	if val := testutil.CollectAndCount(taskDurationSeconds); val <= 0 {
		t.Errorf("expected task duration to be observed, got %d", val)
	}
}

func TestObserveArticlesIgnoresNonPositive(t *testing.T) {
	Init()
	before := testutil.ToFloat64(articlesTotal.WithLabelValues("new"))
	ObserveArticles("new", 0)
	ObserveArticles("new", -3)
	ObserveArticles("new", 4)
	after := testutil.ToFloat64(articlesTotal.WithLabelValues("new"))
	if after-before != 4 {
		t.Errorf("expected articles counter to grow by 4, got %f", after-before)
	}
}

func TestObserveProviderRequestCost(t *testing.T) {
	Init()
	before := testutil.ToFloat64(providerCostUSDTotal.WithLabelValues("dataforseo"))
	ObserveProviderRequest("dataforseo", "success", 0.10)
	ObserveProviderRequest("dataforseo", "failure", 0)
	after := testutil.ToFloat64(providerCostUSDTotal.WithLabelValues("dataforseo"))
	if diff := after - before; diff < 0.0999 || diff > 0.1001 {
		t.Errorf("expected cost to grow by 0.10, got %f", diff)
	}
}

func TestObserveSoftLimitExceeded(t *testing.T) {
	Init()
	before := testutil.ToFloat64(taskSoftLimitExceededTotal.WithLabelValues("scrape_project"))
	ObserveSoftLimitExceeded("scrape_project")
	after := testutil.ToFloat64(taskSoftLimitExceededTotal.WithLabelValues("scrape_project"))
	if after-before != 1 {
		t.Errorf("expected soft limit counter to grow by 1, got %f", after-before)
	}
}
