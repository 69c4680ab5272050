package orchestrator

import (
	"context"

	"github.com/kart-io/memoryd/pkg/security/authz"
)

// permissionChecker adapts pkg/security/authz.Authorizer — the teacher's
// existing RBAC-backed interface — to retriever.PermissionChecker's
// CanRead(ctx, projectID) shape for one fixed subject. A nil Authorizer
// means single-tenant deployments with no access control configured: every
// project is readable, matching spec §6's default single-project behaviour
// when no permission layer is wired in.
type permissionChecker struct {
	authorizer authz.Authorizer
	subject    string
}

func (p permissionChecker) CanRead(ctx context.Context, projectID string) (bool, error) {
	if p.authorizer == nil {
		return true, nil
	}
	return p.authorizer.Authorize(ctx, p.subject, projectID, "read")
}
