package orchestration

import (
	"log/slog"

	"metismedia/internal/shared/events"
	"metismedia/internal/worker"
)

// NewRegistry maps every event name to its stage handler. The matching
// handler is injected because it carries provider dependencies.
func NewRegistry(matching worker.Handler, clock worker.Clock, logger *slog.Logger) worker.Registry {
	return worker.Registry{
		events.EventBriefFinalized:   StageA{Logger: logger},
		events.EventNodeBInput:       matching,
		events.EventDirectiveEmitted: DirectiveForward{Logger: logger},
		events.EventDiscoveryNeeded:  DiscoveryIntake{Logger: logger},
		events.EventNodeCInput:       StageC{Clock: clock, Logger: logger},
		events.EventNodeDInput:       StageD{Logger: logger},
		events.EventNodeEInput:       StageE{Logger: logger},
		events.EventNodeFInput:       StageF{Logger: logger},
		events.EventNodeGInput:       StageG{Logger: logger},
	}
}
