package queue

import "testing"

func TestWakeChannel_PerStage(t *testing.T) {
	if wakeChannel(StageCollect) == wakeChannel(StageProcess) {
		t.Error("wakeChannel should differ per stage")
	}
	if got, want := wakeChannel(StagePublish), "forumblog:queue:publish"; got != want {
		t.Errorf("wakeChannel(StagePublish) = %q, want %q", got, want)
	}
}
