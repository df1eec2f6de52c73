package domain

import (
	"testing"
	"time"
)

func TestCanTransitionTo(t *testing.T) {
	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}
	allowed := map[[2]JobStatus]bool{
		{JobStatusPending, JobStatusProcessing}:   true,
		{JobStatusPending, JobStatusCompleted}:    true,
		{JobStatusPending, JobStatusFailed}:       true,
		{JobStatusProcessing, JobStatusCompleted}: true,
		{JobStatusProcessing, JobStatusFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]JobStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if JobStatusPending.IsTerminal() || JobStatusProcessing.IsTerminal() {
		t.Fatal("open status reported terminal")
	}
	if !JobStatusCompleted.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Fatal("terminal status reported open")
	}
	if JobStatus("DONE").Valid() {
		t.Fatal("unknown status reported valid")
	}
}

func TestSourcesFor(t *testing.T) {
	if got := SourcesFor(JobStatusProcessing); len(got) != 1 || got[0] != JobStatusPending {
		t.Fatalf("SourcesFor(PROCESSING) = %v", got)
	}
	if got := SourcesFor(JobStatusFailed); len(got) != 2 {
		t.Fatalf("SourcesFor(FAILED) = %v", got)
	}
	if got := SourcesFor(JobStatusPending); len(got) != 0 {
		t.Fatalf("SourcesFor(PENDING) = %v", got)
	}
}

func TestApplyKeepsResultAndErrorExclusive(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := Job{ID: "j1", Status: JobStatusProcessing}

	done := base.Apply(Completed("copy", "/out/1.png"), now)
	if done.Status != JobStatusCompleted || *done.ResultText != "copy" || *done.ResultArtifactPath != "/out/1.png" {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if done.ErrorReason != nil || !done.UpdatedAt.Equal(now) {
		t.Fatalf("completed job carries error or stale time: %+v", done)
	}

	failed := base.Apply(Failed("boom"), now)
	if failed.ResultText != nil || failed.ResultArtifactPath != nil || *failed.ErrorReason != "boom" {
		t.Fatalf("unexpected failed job %+v", failed)
	}

	processing := base.Apply(Processing(), now)
	if processing.ResultText != nil || processing.ErrorReason != nil {
		t.Fatalf("processing job carries payload: %+v", processing)
	}
	if base.Status != JobStatusProcessing {
		t.Fatal("Apply mutated the receiver")
	}
}

func TestGenerationResultUpdate(t *testing.T) {
	reason := "backend timeout"
	if u := (GenerationResult{JobID: "j1", Error: &reason}).Update(); u.Status != JobStatusFailed || u.ErrorReason != reason {
		t.Fatalf("unexpected update %+v", u)
	}
	text := "copy"
	if u := (GenerationResult{JobID: "j1", ResultText: &text}).Update(); u.Status != JobStatusCompleted || u.ResultText != "copy" || u.ResultArtifactPath != "" {
		t.Fatalf("unexpected update %+v", u)
	}
}
