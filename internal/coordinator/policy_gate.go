package coordinator

import (
	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/policy"
)

const policyAllow = policy.DecisionAllow

func policyInput(operation string, actor *domain.Participant) policy.Input {
	return policy.Input{
		Operation:     operation,
		Role:          string(actor.Role),
		ParticipantID: actor.ID,
	}
}
