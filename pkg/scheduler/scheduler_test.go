package scheduler

import (
	"testing"

	"github.com/devco/forumblog-pipeline/pkg/queue"
)

func TestWorkerName_IncludesStageAndID(t *testing.T) {
	got := workerName(queue.StageProcess, 2)
	want := "process-worker-2"
	if got != want {
		t.Errorf("workerName() = %q, want %q", got, want)
	}
}
