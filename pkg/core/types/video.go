package types

import (
	"encoding/json"
	"strings"
)

// VideoMode selects how the service analyzes an uploaded video.
type VideoMode string

const (
	VideoFramesOnly    VideoMode = "frames"
	VideoAudioOnly     VideoMode = "audio"
	VideoComprehensive VideoMode = "comprehensive"
)

// Path returns the upload route for the mode. Frames-only is the service's
// original synchronous route; the other two are asynchronous job routes.
func (m VideoMode) Path() string {
	switch m {
	case VideoAudioOnly:
		return "/upload/video/audio"
	case VideoComprehensive:
		return "/upload/video/comprehensive"
	default:
		return "/upload/video"
	}
}

// Async reports whether the mode returns a job to poll rather than an
// inline result.
func (m VideoMode) Async() bool {
	return m == VideoAudioOnly || m == VideoComprehensive
}

// JobState is the server-reported lifecycle of an asynchronous analysis.
type JobState string

const (
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobPending    JobState = "pending"
	JobQueued     JobState = "queued"
)

// VideoResult carries the analysis fields the service merges into the top
// level of a completion body.
type VideoResult struct {
	Transcript     string `json:"transcript,omitempty"`
	Analysis       string `json:"analysis,omitempty"`
	VisualAnalysis string `json:"visual_analysis,omitempty"`
	Summary        string `json:"summary,omitempty"`
}

// Empty reports whether no analysis text came back at all.
func (r VideoResult) Empty() bool {
	return r.Transcript == "" && r.Analysis == "" && r.VisualAnalysis == "" && r.Summary == ""
}

// Render flattens the result into display text, most synthesized first.
func (r VideoResult) Render() string {
	var parts []string
	if r.Summary != "" {
		parts = append(parts, r.Summary)
	}
	if r.Analysis != "" {
		parts = append(parts, r.Analysis)
	}
	if r.VisualAnalysis != "" {
		parts = append(parts, r.VisualAnalysis)
	}
	if r.Transcript != "" {
		parts = append(parts, "Transcript:\n"+r.Transcript)
	}
	return strings.Join(parts, "\n\n")
}

// VideoAccept is the response to an asynchronous video upload. A deployment
// may complete small jobs inline, in which case Status is "completed" and
// the result fields are populated.
type VideoAccept struct {
	Status  JobState    `json:"status"`
	JobID   string      `json:"job_id"`
	Message string      `json:"message"`
	Result  VideoResult `json:"result"`
}

// UnmarshalJSON decodes the accept envelope plus any inline result, which
// deployments carry either nested under "result" or merged into the top
// level. The job key has been spelled both "job_id" and "jobId"; accept
// either.
func (a *VideoAccept) UnmarshalJSON(data []byte) error {
	type envelope VideoAccept
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.JobID == "" {
		var alt struct {
			JobID string `json:"jobId"`
		}
		if err := json.Unmarshal(data, &alt); err == nil {
			e.JobID = alt.JobID
		}
	}
	if e.Result.Empty() {
		var r VideoResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		e.Result = r
	}
	*a = VideoAccept(e)
	return nil
}

// Completed reports whether the upload resolved without a polling loop.
func (a VideoAccept) Completed() bool {
	return a.Status == JobCompleted || (a.Status == "" && !a.Result.Empty())
}

// JobStatusResponse is one answer to a job_status poll. Completion bodies
// carry the result either nested under "result" or merged into the top
// level next to "status"; both decode.
type JobStatusResponse struct {
	Status   JobState    `json:"status"`
	Progress float64     `json:"progress"`
	Error    string      `json:"error"`
	Result   VideoResult `json:"result"`
}

// UnmarshalJSON decodes the status envelope plus either result shape.
func (s *JobStatusResponse) UnmarshalJSON(data []byte) error {
	type envelope JobStatusResponse
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	if e.Result.Empty() {
		var r VideoResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		e.Result = r
	}
	*s = JobStatusResponse(e)
	return nil
}

// Working reports whether the job is still running server-side.
func (s JobStatusResponse) Working() bool {
	switch s.Status {
	case JobProcessing, JobPending, JobQueued:
		return true
	default:
		return false
	}
}
