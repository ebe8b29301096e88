package coordinator

import (
	"encoding/json"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/protocol"
)

func sessionStatusFrame(status domain.SessionStatus) protocol.SessionStatusFrame {
	return protocol.SessionStatusFrame{Type: protocol.TypeSessionStatus, Status: string(status)}
}

func processingStatusFrame(isProcessing bool) protocol.ProcessingStatusFrame {
	return protocol.ProcessingStatusFrame{Type: protocol.TypeProcessingStatus, IsProcessing: isProcessing}
}

func artifactCreatedFrame(a *domain.Artifact) protocol.ArtifactCreatedFrame {
	raw, _ := json.Marshal(a)
	return protocol.ArtifactCreatedFrame{Type: protocol.TypeArtifactCreated, Artifact: raw}
}

func participantView(p *domain.Participant) *protocol.ParticipantView {
	if p == nil {
		return nil
	}
	return &protocol.ParticipantView{
		ID:          p.ID,
		UserID:      p.UserID,
		GitHubLogin: p.GitHubLogin,
		Role:        string(p.Role),
	}
}
