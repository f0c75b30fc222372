package call

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/pkg/timing"
)

func newTestRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://example.com/a", nil)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func terminalOK(status int) InterceptorFunc {
	return func(chain *Chain) (*http.Response, error) {
		return &http.Response{StatusCode: status, Header: http.Header{}, Body: http.NoBody, Request: chain.Request()}, nil
	}
}

func TestExecuteRunsInterceptorsInOrder(t *testing.T) {
	var order []string
	rec := func(name string) InterceptorFunc {
		return func(chain *Chain) (*http.Response, error) {
			order = append(order, name)
			return chain.Proceed(chain.Request())
		}
	}
	c := New(context.Background(), newTestRequest(t), []Interceptor{rec("a"), rec("b"), terminalOK(200)}, nil)
	resp, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestExecuteIsExactlyOnce(t *testing.T) {
	c := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, nil)
	if _, err := c.Execute(); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := c.Execute(); err == nil {
		t.Fatal("expected second Execute to fail")
	}
}

func TestDoubleProceedIsReportedAsCanceled(t *testing.T) {
	reentrant := InterceptorFunc(func(chain *Chain) (*http.Response, error) {
		chain.Proceed(chain.Request())
		return chain.Proceed(chain.Request())
	})
	c := New(context.Background(), newTestRequest(t), []Interceptor{reentrant, terminalOK(200)}, nil)
	_, err := c.Execute()
	if err == nil {
		t.Fatal("expected an error from a double Proceed")
	}
}

func TestEnqueueDeliversResultOnCallback(t *testing.T) {
	c := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(201)}, nil)
	done := make(chan int, 1)
	c.Enqueue(func(resp *http.Response, err error) {
		if err != nil {
			t.Errorf("enqueue: %v", err)
		}
		done <- resp.StatusCode
	})
	if got := <-done; got != 201 {
		t.Fatalf("expected 201, got %d", got)
	}
}

func TestCloneProducesFreshExecutableCall(t *testing.T) {
	c := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, map[string]interface{}{"k": "v"})
	c.Execute()
	clone := c.Clone()
	if clone.Tag("k") != "v" {
		t.Fatalf("expected cloned call to carry tags")
	}
	if _, err := clone.Execute(); err != nil {
		t.Fatalf("clone should be freshly executable: %v", err)
	}
}

func TestEachCallGetsAUniqueID(t *testing.T) {
	a := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, nil)
	b := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, nil)
	if a.ID() == "" || b.ID() == "" {
		t.Fatal("expected a non-empty call ID")
	}
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct call IDs, both were %q", a.ID())
	}
}

func TestMetricsIsNilUntilRecorded(t *testing.T) {
	c := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, nil)
	if c.Metrics() != nil {
		t.Fatal("expected no metrics before the call-server stage records any")
	}
	c.recordMetrics(timing.Metrics{TotalTime: 5 * time.Millisecond})
	if c.Metrics() == nil || c.Metrics().TotalTime != 5*time.Millisecond {
		t.Fatalf("expected recorded metrics to be retrievable, got %v", c.Metrics())
	}
}

func TestCancelStopsContextAndInvokesOnCancel(t *testing.T) {
	c := New(context.Background(), newTestRequest(t), []Interceptor{terminalOK(200)}, nil)
	called := false
	c.setOnCancel(func() { called = true })
	c.Cancel()
	if !called {
		t.Fatal("expected onCancel to run")
	}
	select {
	case <-c.Context().Done():
	default:
		t.Fatal("expected call context to be canceled")
	}
}
