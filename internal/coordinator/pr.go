package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sessioncoordinator/coordinator/internal/domain"
	"github.com/sessioncoordinator/coordinator/internal/prpush"
)

// RequestPR pushes the sandbox's current branch and opens a pull request
// against the repo's default branch, attributed to whoever authored the
// message currently processing. On success the PR is recorded as an
// artifact and the session's branch name is pinned so later pushes reuse
// the same head ref.
func (c *Coordinator) RequestPR(ctx context.Context) (*domain.Artifact, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}

	pr, err := c.push.RequestPR(ctx, sess)
	if err != nil {
		return nil, err
	}

	branch := prpush.BranchNameForSession(sess.ID)
	if sess.BranchName != branch {
		sess.BranchName = branch
		sess.UpdatedAt = nowMillis()
		if err := c.store.UpdateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to record session branch: %w", err)
		}
	}

	meta, _ := json.Marshal(struct {
		Number int    `json:"number"`
		State  string `json:"state"`
	}{Number: pr.Number, State: pr.State})

	a := &domain.Artifact{
		ID:        newID(),
		Type:      domain.ArtifactTypePullRequest,
		URL:       pr.HTMLURL,
		Metadata:  meta,
		CreatedAt: nowMillis(),
	}
	if err := c.store.CreateArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to persist pull request artifact: %w", err)
	}
	c.hub.Broadcast(artifactCreatedFrame(a))
	return a, nil
}
