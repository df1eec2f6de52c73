package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// MaxPromptLength bounds the prompt in characters (runes).
const MaxPromptLength = 2000

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the job accepts no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward step in
// the lattice. A result may land on a PENDING job when the worker answers
// before the PROCESSING write does.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCompleted || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// SourcesFor lists the states from which next can be reached. Repositories use
// it to build conditional updates.
func SourcesFor(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, s := range []JobStatus{JobStatusPending, JobStatusProcessing} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Job is the persisted unit of work tracking a prompt through generation.
type Job struct {
	ID                 string    `json:"id"`
	RequesterID        string    `json:"requesterId"`
	Prompt             string    `json:"prompt"`
	Status             JobStatus `json:"status"`
	ResultText         *string   `json:"resultText,omitempty"`
	ResultArtifactPath *string   `json:"resultArtifactPath,omitempty"`
	ErrorReason        *string   `json:"errorReason,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// JobUpdate describes a status transition together with its payload. Result
// fields are only honoured for COMPLETED and ErrorReason only for FAILED.
type JobUpdate struct {
	Status             JobStatus
	ResultText         string
	ResultArtifactPath string
	ErrorReason        string
}

// Completed builds the update for a successful generation.
func Completed(text, artifactPath string) JobUpdate {
	return JobUpdate{Status: JobStatusCompleted, ResultText: text, ResultArtifactPath: artifactPath}
}

// Failed builds the update for a failed job.
func Failed(reason string) JobUpdate {
	return JobUpdate{Status: JobStatusFailed, ErrorReason: reason}
}

// Processing builds the update recorded once the request is on the queue.
func Processing() JobUpdate {
	return JobUpdate{Status: JobStatusProcessing}
}

// Apply returns a copy of j with u applied. It does not check the lattice;
// callers use CanTransitionTo first.
func (j Job) Apply(u JobUpdate, now time.Time) Job {
	j.Status = u.Status
	j.ResultText, j.ResultArtifactPath, j.ErrorReason = nil, nil, nil
	switch u.Status {
	case JobStatusCompleted:
		text, path := u.ResultText, u.ResultArtifactPath
		j.ResultText = &text
		j.ResultArtifactPath = &path
	case JobStatusFailed:
		reason := u.ErrorReason
		j.ErrorReason = &reason
	}
	j.UpdatedAt = now
	return j
}

// GenerationRequest is the message handed to the worker on the generate queue.
type GenerationRequest struct {
	JobID  string `json:"jobId"`
	Prompt string `json:"prompt"`
}

// GenerationResult is the canonical form of a worker reply.
type GenerationResult struct {
	JobID              string  `json:"jobId"`
	ResultText         *string `json:"resultText,omitempty"`
	ResultArtifactPath *string `json:"resultArtifactPath,omitempty"`
	Error              *string `json:"error,omitempty"`
}

// Failed reports whether the worker reported an application-level failure.
func (r GenerationResult) Failed() bool {
	return r.Error != nil
}

// Update converts the result into the store transition it implies.
func (r GenerationResult) Update() JobUpdate {
	if r.Failed() {
		return Failed(*r.Error)
	}
	return Completed(deref(r.ResultText), deref(r.ResultArtifactPath))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
