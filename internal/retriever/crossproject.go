package retriever

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kart-io/logger"
)

// MergeStrategy selects how cross-project results are combined
// (spec.md §4.6 Cross-project retrieval).
type MergeStrategy string

const (
	MergeScore      MergeStrategy = "score"
	MergeTime       MergeStrategy = "time"
	MergeRoundRobin MergeStrategy = "round_robin"
)

// PermissionChecker gates which projects a caller may search; C8 owns the
// real implementation. A project the caller cannot read is silently
// dropped from the search set rather than erroring the whole request.
type PermissionChecker interface {
	CanRead(ctx context.Context, projectID string) (bool, error)
}

// ProjectResult is one project's contribution to a cross-project search.
type ProjectResult struct {
	ProjectID string
	Results   []Result
}

// RetrieveCrossProject runs Retrieve once per accessible project in
// parallel, then merges per strategy. req.ProjectID is ignored; each
// project id in projectIDs is substituted in turn.
func (r *Retriever) RetrieveCrossProject(ctx context.Context, req Request, projectIDs []string, perms PermissionChecker, strategy MergeStrategy, maxResultsPerProject int) ([]ProjectResult, []Result, error) {
	allowed := make([]string, 0, len(projectIDs))
	for _, pid := range projectIDs {
		if perms == nil {
			allowed = append(allowed, pid)
			continue
		}
		ok, err := perms.CanRead(ctx, pid)
		if err != nil {
			logger.Warnw("retriever: permission check failed, dropping project from search set", "project_id", pid, "error", err.Error())
			continue
		}
		if ok {
			allowed = append(allowed, pid)
		}
	}

	perProject := make([]ProjectResult, len(allowed))
	g, gctx := errgroup.WithContext(ctx)
	for i, pid := range allowed {
		i, pid := i, pid
		g.Go(func() error {
			sub := req
			sub.ProjectID = pid
			if maxResultsPerProject > 0 {
				sub.Limit = maxResultsPerProject
			}
			res, err := r.Retrieve(gctx, sub)
			if err != nil {
				logger.Warnw("retriever: project search degraded to empty", "project_id", pid, "error", err.Error())
				perProject[i] = ProjectResult{ProjectID: pid}
				return nil
			}
			perProject[i] = ProjectResult{ProjectID: pid, Results: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return perProject, mergeCrossProject(perProject, strategy), nil
}

func mergeCrossProject(perProject []ProjectResult, strategy MergeStrategy) []Result {
	switch strategy {
	case MergeTime:
		var merged []Result
		for _, p := range perProject {
			merged = append(merged, p.Results...)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Unit.CreatedAt.After(merged[j].Unit.CreatedAt)
		})
		return merged
	case MergeRoundRobin:
		return roundRobin(perProject)
	case MergeScore:
		fallthrough
	default:
		var merged []Result
		for _, p := range perProject {
			merged = append(merged, p.Results...)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return lessResult(merged[j], merged[i])
		})
		return merged
	}
}

// roundRobin interleaves one result per project, in project order, until
// every project's results are exhausted.
func roundRobin(perProject []ProjectResult) []Result {
	var merged []Result
	for i := 0; ; i++ {
		added := false
		for _, p := range perProject {
			if i < len(p.Results) {
				merged = append(merged, p.Results[i])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return merged
}
