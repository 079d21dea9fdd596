// Package printjob sequences a print from request to device and reports
// its progress.
package printjob

import (
	"fmt"
	"sync"
)

// Stage of a print job.
type Stage int

const (
	Connecting Stage = iota
	Rendering
	Sending
	Complete
	Failed
)

func (s Stage) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Rendering:
		return "rendering"
	case Sending:
		return "sending"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool {
	return s == Complete || s == Failed
}

type Progress struct {
	JobID   string `json:"job_id"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message,omitempty"`
}

// Result is the outcome of a job.
type Result struct {
	JobID     string `json:"job_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LabelSize string `json:"label_size,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
	Err       error  `json:"-"`
}

// Job is one print in flight. Its progress channel yields the stages in
// order, ends with exactly one of Complete or Failed, and is then closed.
type Job struct {
	ID string

	progress chan Progress
	done     chan struct{}
	once     sync.Once
	result   Result
}

func newJob(id string) *Job {
	return &Job{
		ID: id,
		// room for every stage so the job never waits on a slow reader
		progress: make(chan Progress, int(Failed)+1),
		done:     make(chan struct{}),
	}
}

func (j *Job) Progress() <-chan Progress {
	return j.progress
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished and returns its result.
func (j *Job) Wait() Result {
	<-j.done
	return j.result
}

func (j *Job) report(stage Stage, msg string) {
	j.progress <- Progress{JobID: j.ID, Stage: stage, Message: msg}
}

func (j *Job) finish(r Result) {
	j.once.Do(func() {
		r.JobID = j.ID
		stage := Complete
		if !r.Success {
			stage = Failed
		}
		j.result = r
		j.report(stage, r.Message)
		close(j.progress)
		close(j.done)
	})
}
