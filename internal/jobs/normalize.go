package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"campaign/internal/domain"
)

// Shape names the message layouts the pipeline understands.
type Shape string

const (
	// ShapeFlat is a bare payload: {"jobId": ..., ...}.
	ShapeFlat Shape = "flat"
	// ShapeWrapped is the envelope used by message-pattern producers:
	// {"pattern": "...", "data": {...}}.
	ShapeWrapped Shape = "wrapped"
	// ShapeArray is a one-element batch: [{...}]. Only generate requests use it.
	ShapeArray Shape = "array"
	// ShapeIndexed is a batch serialized as an object: {"0": {...}}. Only
	// generate requests use it.
	ShapeIndexed Shape = "indexed"
)

// FormatError reports a payload that matches none of the known shapes or
// lacks required fields. JobID is set when the id could still be recovered.
type FormatError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// resultPayload lists the canonical fields and the aliases older workers send.
type resultPayload struct {
	JobID              *string `json:"jobId"`
	CampaignID         *string `json:"campaignId"`
	ResultText         *string `json:"resultText"`
	GeneratedText      *string `json:"generatedText"`
	ResultArtifactPath *string `json:"resultArtifactPath"`
	ImagePath          *string `json:"imagePath"`
	Error              *string `json:"error"`
}

type requestPayload struct {
	JobID      *string `json:"jobId"`
	CampaignID *string `json:"campaignId"`
	Prompt     *string `json:"prompt"`
}

// NormalizeResult extracts the canonical GenerationResult from an inbound
// result message. Any failure is a *FormatError.
func NormalizeResult(body []byte) (domain.GenerationResult, Shape, error) {
	inner, shape, err := unwrap(body, false)
	if err != nil {
		return domain.GenerationResult{}, "", err
	}
	var p resultPayload
	if err := json.Unmarshal(inner, &p); err != nil {
		return domain.GenerationResult{}, shape, &FormatError{Reason: "invalid result fields", Err: err}
	}
	id := strings.TrimSpace(firstNonEmpty(p.JobID, p.CampaignID))
	if id == "" {
		return domain.GenerationResult{}, shape, &FormatError{Reason: "missing job id"}
	}
	res := domain.GenerationResult{JobID: id}
	if reason := firstNonEmpty(p.Error); reason != "" {
		res.Error = &reason
		return res, shape, nil
	}
	text := firstNonEmpty(p.ResultText, p.GeneratedText)
	path := firstNonEmpty(p.ResultArtifactPath, p.ImagePath)
	if text == "" && path == "" {
		return domain.GenerationResult{}, shape, &FormatError{JobID: id, Reason: "result carries neither output nor error"}
	}
	res.ResultText = &text
	res.ResultArtifactPath = &path
	return res, shape, nil
}

// NormalizeRequest extracts a GenerationRequest from a generate message.
func NormalizeRequest(body []byte) (domain.GenerationRequest, Shape, error) {
	inner, shape, err := unwrap(body, true)
	if err != nil {
		return domain.GenerationRequest{}, "", err
	}
	var p requestPayload
	if err := json.Unmarshal(inner, &p); err != nil {
		return domain.GenerationRequest{}, shape, &FormatError{Reason: "invalid request fields", Err: err}
	}
	id := strings.TrimSpace(firstNonEmpty(p.JobID, p.CampaignID))
	if id == "" {
		return domain.GenerationRequest{}, shape, &FormatError{Reason: "missing job id"}
	}
	if p.Prompt == nil || strings.TrimSpace(*p.Prompt) == "" {
		return domain.GenerationRequest{}, shape, &FormatError{JobID: id, Reason: "missing prompt"}
	}
	return domain.GenerationRequest{JobID: id, Prompt: *p.Prompt}, shape, nil
}

// unwrap matches body against the closed set of shapes and returns the inner
// object.
func unwrap(body []byte, allowArray bool) (json.RawMessage, Shape, error) {
	trimmed := bytes.TrimSpace(body)
	if allowArray && len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, "", &FormatError{Reason: "invalid JSON array", Err: err}
		}
		if len(items) != 1 || !isObject(items[0]) {
			return nil, "", &FormatError{Reason: "array must hold exactly one object"}
		}
		return items[0], ShapeArray, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, "", &FormatError{Reason: "not a JSON object", Err: err}
	}
	if fields == nil {
		return nil, "", &FormatError{Reason: "not a JSON object"}
	}
	// Id keys win: a flat payload may carry its own unrelated data field.
	for _, key := range []string{"jobId", "campaignId"} {
		if _, ok := fields[key]; ok {
			return trimmed, ShapeFlat, nil
		}
	}
	if data, ok := fields["data"]; ok {
		if !isObject(data) {
			return nil, "", &FormatError{Reason: "data is not an object"}
		}
		return data, ShapeWrapped, nil
	}
	if item, ok := fields["0"]; ok && allowArray {
		if !isObject(item) {
			return nil, "", &FormatError{Reason: "item 0 is not an object"}
		}
		return item, ShapeIndexed, nil
	}
	return nil, "", &FormatError{Reason: "unrecognized message shape"}
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if strings.TrimSpace(*v) != "" {
			return *v
		}
	}
	return ""
}
