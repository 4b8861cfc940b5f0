package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"calsyncd/internal/model"
	"calsyncd/internal/store"
)

// cancelCascade cancels a job and, transitively, every non-terminal job that
// depends on it. The whole cascade runs in one store transaction.
//
// The non-terminal job set is loaded once and traversed as an in-memory
// graph with an explicit work list and visited set, so the cascade is
// idempotent even when the dependency forest contains descendants reachable
// by multiple paths, and termination doesn't hinge on store query timing.
//
// Dependent handling: a CREATE dependent means the entity it would have
// created will never exist remotely - its local event is rolled back
// (tombstoned, CLEAN). Any other dependent leaves its event in ERROR so the
// stuck mutation is surfaced. Afterwards every touched event with no
// remaining non-terminal job returns to CLEAN.
func (w *Worker) cancelCascade(ctx context.Context, rootID, reason string) error {
	return w.store.WithTx(ctx, func(tx *store.Queries) error {
		root, err := tx.GetJob(ctx, rootID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cancel job %s: not found", rootID)
		}
		if err != nil {
			return err
		}
		if root.Status.Terminal() {
			return nil
		}

		nonTerminal, err := tx.NonTerminalJobs(ctx)
		if err != nil {
			return err
		}

		// Dependency forest: parent id -> non-terminal dependents.
		children := make(map[string][]*model.OutboxJob)
		for i := range nonTerminal {
			job := &nonTerminal[i]
			if job.DependsOn != "" {
				children[job.DependsOn] = append(children[job.DependsOn], job)
			}
		}

		now := w.clock.Now()
		visited := map[string]bool{root.ID: true}
		touched := map[string]bool{}

		cancel := func(job *model.OutboxJob, why string) error {
			job.Status = model.JobCancelled
			job.LastError = why
			job.UpdatedAt = now
			if job.EventLocalID != "" {
				touched[job.EventLocalID] = true
			}
			return tx.UpdateJob(ctx, job)
		}

		if err := cancel(root, reason); err != nil {
			return err
		}

		worklist := append([]*model.OutboxJob{}, children[root.ID]...)
		for len(worklist) > 0 {
			job := worklist[0]
			worklist = worklist[1:]
			if visited[job.ID] {
				continue
			}
			visited[job.ID] = true

			if job.EventLocalID != "" {
				if job.Operation == model.OpCreate {
					// The remote entity this CREATE targets never will
					// exist; the local creation is rolled back.
					if err := tx.MarkEventDeleted(ctx, job.EventLocalID, now); err != nil {
						return err
					}
					if err := tx.UpdateSyncState(ctx, job.EventLocalID, store.SyncStateUpdate{State: model.SyncClean}); err != nil {
						return err
					}
				} else {
					if err := tx.UpdateSyncState(ctx, job.EventLocalID, store.SyncStateUpdate{State: model.SyncError}); err != nil {
						return err
					}
				}
			}

			why := fmt.Sprintf("cancelled because job %s was cancelled: %s", job.DependsOn, reason)
			if err := cancel(job, why); err != nil {
				return err
			}
			worklist = append(worklist, children[job.ID]...)
		}

		for eventID := range touched {
			remaining, err := tx.CountNonTerminalJobsForEvent(ctx, eventID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				err := tx.UpdateSyncState(ctx, eventID, store.SyncStateUpdate{State: model.SyncClean})
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return err
				}
			}
		}
		return nil
	})
}
