package handler

import "time"

type RunParams struct {
	RunID int64 `param:"run_id"`
}

type ListRunsParams struct {
	Pipeline string `param:"pipeline"`
	Page     int64  `query:"page"`
}

type DispatchParams struct {
	Pipeline string            `param:"pipeline"`
	Inputs   map[string]string `json:"inputs"`
}

// PullRequestPayload is the subset of a GitHub pull_request webhook
// payload that starts a run.
type PullRequestPayload struct {
	Action      string `json:"action"`
	Number      int64  `json:"number"`
	PullRequest struct {
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Head struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

// RunResponse is a run without its output.
type RunResponse struct {
	RunID            int64      `json:"run_id"`
	Pipeline         string     `json:"pipeline"`
	Event            string     `json:"event"`
	Branch           string     `json:"branch"`
	Revision         string     `json:"revision,omitempty"`
	Status           string     `json:"status"`
	FailedStep       *string    `json:"failed_step,omitempty"`
	WorkingDirectory *string    `json:"working_directory,omitempty"`
	CacheKey         *string    `json:"cache_key,omitempty"`
	CreatedOn        time.Time  `json:"created_on"`
	StartedOn        *time.Time `json:"started_on,omitempty"`
	EndedOn          *time.Time `json:"ended_on,omitempty"`
}

type RunsResponse struct {
	Runs  []RunResponse `json:"runs"`
	Page  int64         `json:"page"`
	Total int64         `json:"total"`
}

type TriggeredResponse struct {
	RunIDs  []int64 `json:"run_ids,omitempty"`
	Message string  `json:"message,omitempty"`
}
