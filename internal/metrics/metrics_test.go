package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_ModelCall(t *testing.T) {
	r := New()
	r.ModelCall("o3-mini", 2*time.Second, 120, 30, nil)
	r.ModelCall("o3-mini", time.Second, 0, 0, errors.New("timeout"))

	if got := testutil.ToFloat64(r.modelRequests.WithLabelValues("o3-mini", "success")); got != 1 {
		t.Errorf("success requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.modelRequests.WithLabelValues("o3-mini", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.modelTokens.WithLabelValues("o3-mini", "input")); got != 120 {
		t.Errorf("input tokens = %v, want 120", got)
	}
	if got := testutil.ToFloat64(r.modelTokens.WithLabelValues("o3-mini", "output")); got != 30 {
		t.Errorf("output tokens = %v, want 30", got)
	}
}

func TestRecorder_LoopAndTools(t *testing.T) {
	r := New()
	r.LoopFinished(3, false)
	r.LoopFinished(10, true)
	r.ToolExecuted("execute_query", 10*time.Millisecond, nil)
	r.ToolExecuted("execute_query", 10*time.Millisecond, errors.New("bad sql"))
	r.TaskExecuted("wake", nil)
	r.MessageHandled("whatsapp", nil)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"final loops", testutil.ToFloat64(r.loopRuns.WithLabelValues("final")), 1},
		{"forced loops", testutil.ToFloat64(r.loopRuns.WithLabelValues("forced")), 1},
		{"tool ok", testutil.ToFloat64(r.toolCalls.WithLabelValues("execute_query", "success")), 1},
		{"tool err", testutil.ToFloat64(r.toolCalls.WithLabelValues("execute_query", "error")), 1},
		{"task", testutil.ToFloat64(r.taskRuns.WithLabelValues("wake", "success")), 1},
		{"message", testutil.ToFloat64(r.messages.WithLabelValues("whatsapp", "success")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ToolExecuted("web_search", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`steward_tool_calls_total{status="success",tool="web_search"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
