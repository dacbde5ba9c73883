package tracking

import (
	"fmt"

	"speckletrack/pkg/field"
	"speckletrack/pkg/strain"
)

// State is the scheduler state of a tracking run.
type State int32

const (
	Initializing State = iota
	Refining
	Regularizing
	Finalizing
	Done
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Refining:
		return "refining"
	case Regularizing:
		return "regularizing"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stage tells an observer which point of the run produced an event.
type Stage int

const (
	// StageRegularization follows each Bayesian regularization pass.
	StageRegularization Stage = iota
	// StageStrainWindow follows each strain-window pass that revised blocks.
	StageStrainWindow
	// StageLevel follows the completion of a resolution level.
	StageLevel
)

func (s Stage) String() string {
	switch s {
	case StageRegularization:
		return "regularization"
	case StageStrainWindow:
		return "strain-window"
	case StageLevel:
		return "level"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Event describes a point of progress. Displacement is the live field of
// the level; observers must copy it to keep it beyond the call.
type Event struct {
	Level     int
	Stage     Stage
	Iteration int
	// Displacement is in physical units on the level's block lattice.
	Displacement *field.VectorField
	// Strain is the strain of Displacement over the level's valid blocks.
	// It is set for regularization and strain-window passes and, when block
	// warping is on, at the end of a level. A regularization pass whose
	// strain fit failed carries nil.
	Strain *strain.Result
	// Report is set at the end of a level.
	Report *LevelReport
}

// Observer receives events synchronously from the goroutine running Track.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }
