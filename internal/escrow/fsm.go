package escrow

import (
	"fmt"

	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// Decision is the outcome of a legal transition.
type Decision struct {
	From         enums.OrderStatus
	To           enums.OrderStatus
	Trigger      enums.OrderTrigger
	CaptureStage enums.MilestoneStage
	Release      bool
	Refund       bool
	Progress     int
}

// Captures reports whether the transition captures a milestone.
func (d Decision) Captures() bool {
	return d.CaptureStage != ""
}

type rule struct {
	from    []enums.OrderStatus
	to      enums.OrderStatus
	actors  []enums.ActorRole
	capture enums.MilestoneStage
	release bool
	refund  bool
}

var nonTerminal = []enums.OrderStatus{
	enums.OrderStatusCreated,
	enums.OrderStatusAccepted,
	enums.OrderStatusRequirementsSubmitted,
	enums.OrderStatusStarted,
	enums.OrderStatusHalfwayDone,
	enums.OrderStatusDelivered,
	enums.OrderStatusRequestedRevision,
	enums.OrderStatusWaitingReview,
}

var transitions = map[enums.OrderTrigger]rule{
	enums.TriggerPaymentAuthorized: {
		from:    []enums.OrderStatus{enums.OrderStatusCreated},
		to:      enums.OrderStatusAccepted,
		actors:  []enums.ActorRole{enums.ActorRoleSystem},
		capture: enums.MilestoneStageAccepted,
	},
	enums.TriggerSubmitRequirements: {
		from:   []enums.OrderStatus{enums.OrderStatusAccepted},
		to:     enums.OrderStatusRequirementsSubmitted,
		actors: []enums.ActorRole{enums.ActorRoleBuyer},
	},
	enums.TriggerStartWork: {
		from:    []enums.OrderStatus{enums.OrderStatusAccepted, enums.OrderStatusRequirementsSubmitted},
		to:      enums.OrderStatusStarted,
		actors:  []enums.ActorRole{enums.ActorRoleSeller},
		capture: enums.MilestoneStageInEscrow,
	},
	enums.TriggerMarkHalfway: {
		from:   []enums.OrderStatus{enums.OrderStatusStarted},
		to:     enums.OrderStatusHalfwayDone,
		actors: []enums.ActorRole{enums.ActorRoleSeller},
	},
	enums.TriggerDeliver: {
		from:    []enums.OrderStatus{enums.OrderStatusStarted, enums.OrderStatusHalfwayDone, enums.OrderStatusRequestedRevision},
		to:      enums.OrderStatusDelivered,
		actors:  []enums.ActorRole{enums.ActorRoleSeller},
		capture: enums.MilestoneStageDelivered,
	},
	enums.TriggerRequestRevision: {
		from:   []enums.OrderStatus{enums.OrderStatusDelivered},
		to:     enums.OrderStatusRequestedRevision,
		actors: []enums.ActorRole{enums.ActorRoleBuyer},
	},
	enums.TriggerApprove: {
		from:    []enums.OrderStatus{enums.OrderStatusDelivered, enums.OrderStatusRequestedRevision},
		to:      enums.OrderStatusWaitingReview,
		actors:  []enums.ActorRole{enums.ActorRoleBuyer},
		capture: enums.MilestoneStageReviewed,
	},
	enums.TriggerRelease: {
		from:    []enums.OrderStatus{enums.OrderStatusWaitingReview},
		to:      enums.OrderStatusCompleted,
		actors:  []enums.ActorRole{enums.ActorRoleSystem},
		release: true,
	},
	enums.TriggerCancel: {
		from: []enums.OrderStatus{
			enums.OrderStatusCreated,
			enums.OrderStatusAccepted,
			enums.OrderStatusRequirementsSubmitted,
			enums.OrderStatusStarted,
			enums.OrderStatusHalfwayDone,
		},
		to:     enums.OrderStatusCancelled,
		actors: []enums.ActorRole{enums.ActorRoleBuyer},
		refund: true,
	},
	enums.TriggerDispute: {
		from:   nonTerminal,
		to:     enums.OrderStatusDisputed,
		actors: []enums.ActorRole{enums.ActorRoleBuyer, enums.ActorRoleSeller},
	},
}

var progressByStatus = map[enums.OrderStatus]int{
	enums.OrderStatusCreated:               0,
	enums.OrderStatusAccepted:              10,
	enums.OrderStatusRequirementsSubmitted: 15,
	enums.OrderStatusStarted:               25,
	enums.OrderStatusHalfwayDone:           50,
	enums.OrderStatusDelivered:             80,
	enums.OrderStatusRequestedRevision:     70,
	enums.OrderStatusWaitingReview:         90,
	enums.OrderStatusCompleted:             100,
}

// Progress returns the completion percentage shown for a status. Side exits
// keep the progress of the status they left.
func Progress(status enums.OrderStatus) int {
	return progressByStatus[status]
}

// Transition resolves a trigger against the current status and the actor's role.
// A wrong actor is FORBIDDEN; a status the trigger does not leave from is PRECONDITION_FAILED.
func Transition(current enums.OrderStatus, trigger enums.OrderTrigger, actor enums.ActorRole) (Decision, error) {
	r, ok := transitions[trigger]
	if !ok {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown trigger %q", trigger))
	}
	if !containsRole(r.actors, actor) {
		return Decision{}, pkgerrors.New(pkgerrors.CodeForbidden,
			fmt.Sprintf("%s is not allowed to %s", actor, trigger))
	}
	if !containsStatus(r.from, current) {
		return Decision{}, pkgerrors.New(pkgerrors.CodePrecondition,
			fmt.Sprintf("cannot %s an order that is %s", trigger, current)).
			WithDetails(map[string]any{"status": current, "trigger": trigger})
	}

	progress, tracked := progressByStatus[r.to]
	if !tracked {
		progress = Progress(current)
	}
	return Decision{
		From:         current,
		To:           r.to,
		Trigger:      trigger,
		CaptureStage: r.capture,
		Release:      r.release,
		Refund:       r.refund,
		Progress:     progress,
	}, nil
}

// CaptureStageFor returns the milestone a trigger captures, or "" when it captures nothing.
func CaptureStageFor(trigger enums.OrderTrigger) enums.MilestoneStage {
	return transitions[trigger].capture
}

// CanTransition reports whether trigger is legal from current for any actor.
func CanTransition(current enums.OrderStatus, trigger enums.OrderTrigger) bool {
	r, ok := transitions[trigger]
	return ok && containsStatus(r.from, current)
}

func containsStatus(list []enums.OrderStatus, s enums.OrderStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsRole(list []enums.ActorRole, r enums.ActorRole) bool {
	for _, candidate := range list {
		if candidate == r {
			return true
		}
	}
	return false
}
