package types

import "time"

const (
	MethodGet  = "GET"
	MethodPost = "POST"
)

// Task is a single request to send. A nil Body means GET, anything else POST.
// Body slices may be shared between tasks and must never be written to.
type Task struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Body     []byte `json:"-" yaml:"-"`
}

// Method returns the HTTP method implied by the task body
func (t Task) Method() string {
	if t.Body == nil {
		return MethodGet
	}
	return MethodPost
}

// Outcome is the result of one send attempt on a live connection
type Outcome struct {
	Endpoint   string
	StatusCode int
	BodyLength int64
	Latency    time.Duration
	Success    bool
	At         time.Time // wall-clock time the response completed (or failed)
	Err        error
}
