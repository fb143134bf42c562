package drill

import (
	"context"
	"log"
	"strconv"
	"sync"

	"github.com/louisbranch/prepared.space/internal/platform/timeouts"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
)

// Event kinds recorded for a run.
const (
	EventStepOpened    = "step_opened"
	EventStepAnswered  = "step_answered"
	EventHintGranted   = "hint_granted"
	EventStepEvaluated = "step_evaluated"
	EventRunFinished   = "run_finished"
	EventRunFailed     = "run_failed"
)

// recorder turns successive snapshots into progress events.
type recorder struct {
	runID  string
	events storage.EventStore
	clock  engine.Clock
	logger *log.Logger

	mu   sync.Mutex
	prev engine.Snapshot
	seq  uint64
}

func newRecorder(runID string, events storage.EventStore, clock engine.Clock, logger *log.Logger) *recorder {
	return &recorder{runID: runID, events: events, clock: clock, logger: logger}
}

func (r *recorder) observe(snapshot engine.Snapshot) {
	if r.events == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range diffSnapshots(r.prev, snapshot) {
		r.seq++
		event.RunID = r.runID
		event.Seq = r.seq
		event.CreatedAt = r.clock.Now().UTC()
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.StorageWrite)
		err := r.events.PutRunEvent(ctx, event)
		cancel()
		if err != nil {
			r.logger.Printf("lab run %s: record %s event: %v", r.runID, event.Kind, err)
		}
	}
	r.prev = snapshot
}

// diffSnapshots lists what changed between two snapshots of the same run.
func diffSnapshots(prev, cur engine.Snapshot) []storage.RunEventRecord {
	var events []storage.RunEventRecord
	for i, step := range cur.Steps {
		var before engine.Step
		opened := i >= len(prev.Steps)
		if !opened {
			before = prev.Steps[i]
		}
		if opened && !step.Failed {
			events = append(events, storage.RunEventRecord{Kind: EventStepOpened, StepIndex: i, Detail: string(step.Scenario.StepType)})
		}
		if step.Hint != "" && before.Hint == "" {
			events = append(events, storage.RunEventRecord{Kind: EventHintGranted, StepIndex: i})
		}
		if step.Responded && !before.Responded {
			detail := ""
			if step.TimedOut {
				detail = "timeout"
			}
			events = append(events, storage.RunEventRecord{Kind: EventStepAnswered, StepIndex: i, Detail: detail})
		}
		if step.Evaluated && !before.Evaluated {
			events = append(events, storage.RunEventRecord{Kind: EventStepEvaluated, StepIndex: i, Detail: strconv.Itoa(step.Score)})
		}
	}
	if cur.Finished && !prev.Finished {
		kind := EventRunFinished
		if cur.Failed {
			kind = EventRunFailed
		}
		events = append(events, storage.RunEventRecord{Kind: kind, StepIndex: cur.CurrentIndex, Detail: strconv.Itoa(engine.AggregateScore(cur.Steps))})
	}
	return events
}
