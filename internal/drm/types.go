package drm

// JobState is the lifecycle state of a submitted job.
type JobState int

const (
	JobSubmitted JobState = iota
	JobRunning
	JobCompleted // Ran to completion; ExitCode carries the shell exit status
	JobFailed    // Never produced an exit status (killed, lost, rejected)
)

func (s JobState) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	}
	return "unknown"
}

// ResourceSpec carries native scheduler options for a submitted job.
type ResourceSpec struct {
	Queue           string            // Target queue (e.g. "short.qa")
	MemoryMB        int               // Requested memory, zero for scheduler default
	Slots           int               // Requested slots/cores, zero for default
	Env             map[string]string // Extra environment forwarded to the job
	CopyEnvironment bool              // Replicate the submitting environment
}

// Job identifies a submitted unit of work.
type Job struct {
	ID      string
	Command string
	Spec    ResourceSpec
}

// JobStatus is a point-in-time view of a job, terminal or not.
type JobStatus struct {
	State    JobState
	ExitCode int
	Reason   string // Failure detail when State is JobFailed
}

// Terminal reports whether the job has reached a final state.
func (s JobStatus) Terminal() bool {
	return s.State == JobCompleted || s.State == JobFailed
}
