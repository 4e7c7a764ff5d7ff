package orchestrator

import (
	"encoding/json"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pipeline"
)

// State is the checkpoint blob persisted into job_run.result: the completed
// stage list plus the pipeline's own partial state. A restarted worker
// deserializes this and skips everything already done.
type State struct {
	Completed []string        `json:"completed,omitempty"`
	Pipeline  *pipeline.State `json:"pipeline,omitempty"`
}

func NewState() *State {
	return &State{Pipeline: pipeline.NewState()}
}

// LoadState restores the checkpoint from a job row. A missing or unreadable
// blob yields a fresh state: the run starts from the first stage.
func LoadState(job *domain.JobRun) *State {
	st := NewState()
	if job == nil || len(job.Result) == 0 {
		return st
	}
	var loaded State
	if err := json.Unmarshal(job.Result, &loaded); err != nil {
		return st
	}
	if loaded.Pipeline == nil {
		loaded.Pipeline = pipeline.NewState()
	}
	if loaded.Pipeline.DoneWindows == nil {
		loaded.Pipeline.DoneWindows = map[int]bool{}
	}
	if loaded.Pipeline.Skipped == nil {
		loaded.Pipeline.Skipped = map[string]int{}
	}
	return &loaded
}

func (s *State) Done(stage string) bool {
	for _, c := range s.Completed {
		if c == stage {
			return true
		}
	}
	return false
}

func (s *State) MarkDone(stage string) {
	if !s.Done(stage) {
		s.Completed = append(s.Completed, stage)
	}
}
