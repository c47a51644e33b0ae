package types

import "time"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: no active episode
	Error string `json:"error" example:"no active episode"`
	// HTTP status code.
	// example: 409
	Code int `json:"code" example:"409"`
}

// EpisodeStatus summarizes one episode.
type EpisodeStatus struct {
	ID        int       `json:"id"`
	State     string    `json:"state"`
	Cause     string    `json:"cause,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Archive   string    `json:"archive,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CollectorStatus reports the dataset collector.
type CollectorStatus struct {
	Collecting    bool   `json:"collecting"`
	Buffered      int    `json:"buffered"`
	Action        string `json:"action"`
	Stride        int    `json:"stride"`
	Captured      uint64 `json:"captured"`
	CaptureFaults uint64 `json:"capture_faults"`
	Discarded     uint64 `json:"discarded"`
}

// PersistStatus reports the persistence worker.
type PersistStatus struct {
	Session  string `json:"session"`
	Saved    uint64 `json:"saved"`
	Failed   uint64 `json:"failed"`
	Inflight int64  `json:"inflight"`
	Train    uint64 `json:"train"`
	Val      uint64 `json:"val"`
}

// SimStatus reports the simulation driver.
type SimStatus struct {
	Frame       int     `json:"frame"`
	SceneBuilds int     `json:"scene_builds"`
	Distance    float64 `json:"distance"`
	Running     bool    `json:"running"`
}

// BusStatus reports event bus counters.
type BusStatus struct {
	Published     uint64 `json:"published"`
	Faults        uint64 `json:"faults"`
	Dropped       uint64 `json:"dropped"`
	Subscriptions int    `json:"subscriptions"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the episode manager (idle, collecting, saving).
	// example: collecting
	State     string          `json:"state" example:"collecting"`
	Threshold float64         `json:"threshold"`
	LastFrame int             `json:"last_frame"`
	Current   *EpisodeStatus  `json:"current,omitempty"`
	Saving    []EpisodeStatus `json:"saving"`
	History   []EpisodeStatus `json:"history"`
	Collector CollectorStatus `json:"collector"`
	Persist   PersistStatus   `json:"persist"`
	Sim       SimStatus       `json:"sim"`
	Bus       BusStatus       `json:"bus"`
	// Set while the service is shutting down.
	ShuttingDown bool `json:"shutting_down,omitempty"`
}

// ManualEndResponse is returned by POST /episode/end.
type ManualEndResponse struct {
	// Queued is true once the request has been handed to the tick loop.
	Queued bool `json:"queued"`
	// Episode that was collecting when the request was queued.
	EpisodeID int `json:"episode_id"`
}
