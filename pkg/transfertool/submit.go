// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transfertool

import (
	"golang.org/x/net/context"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/intel-hpdd/logging/alert"
	"github.com/intel-hpdd/logging/audit"

	"github.com/gridfab/courier/pkg/request"
)

// SubmitJob drives one job through the tool while keeping request
// state consistent with what the external service has accepted.
// Requests are claimed before the attempt; a failed attempt marks
// them failed-to-submit so a later cycle can pick them up again.
func SubmitJob(ctx context.Context, store request.Store, tool Tool, job *Job) error {
	ids := job.RequestIDs()
	if err := store.MarkSubmitting(ctx, ids...); err != nil {
		return errors.Wrapf(err, "failed to claim requests for job %s", job.ID)
	}

	externalID, err := tool.Submit(ctx, job)
	switch {
	case err == nil:
	case IsDuplicate(err) && !job.Params.Multihop:
		audit.Logf("%s holds a duplicate from job %s, resubmitting one by one", job.Host, job.ID)
		return resubmitSingles(ctx, store, tool, job)
	default:
		if ferr := store.MarkSubmissionFailed(ctx, ids...); ferr != nil {
			alert.Warnf("failed to record submission failure for job %s: %s", job.ID, ferr)
		}
		return errors.Wrapf(err, "failed to submit job %s to %s", job.ID, job.Host)
	}

	if err := store.MarkSubmitted(ctx, job.Host, externalID, ids...); err != nil {
		// The service now holds transfers nobody tracks. Pull the
		// job back rather than let it run unrecorded.
		if cerr := tool.Cancel(ctx, externalID); cerr != nil {
			alert.Warnf("failed to cancel untracked job %s on %s: %s", externalID, job.Host, cerr)
		}
		return errors.Wrapf(err, "failed to record submission of job %s", job.ID)
	}

	audit.Logf("submitted job %s to %s as %s (%d transfers)",
		job.ID, job.Host, externalID, len(job.Transfers))
	return nil
}

// resubmitSingles retries each transfer in a job of its own so one
// already-known transfer cannot block the rest of the batch.
func resubmitSingles(ctx context.Context, store request.Store, tool Tool, job *Job) error {
	for _, transfer := range job.Transfers {
		single := &Job{
			ID:        uuid.New(),
			Host:      job.Host,
			Params:    job.Params,
			Transfers: []*Transfer{transfer},
		}

		externalID, err := tool.Submit(ctx, single)
		if err != nil {
			alert.Warnf("resubmit of request %s to %s failed: %s", transfer.RequestID, job.Host, err)
			if ferr := store.MarkSubmissionFailed(ctx, transfer.RequestID); ferr != nil {
				alert.Warnf("failed to record submission failure for request %s: %s", transfer.RequestID, ferr)
			}
			continue
		}

		if err := store.MarkSubmitted(ctx, job.Host, externalID, transfer.RequestID); err != nil {
			if cerr := tool.Cancel(ctx, externalID); cerr != nil {
				alert.Warnf("failed to cancel untracked job %s on %s: %s", externalID, job.Host, cerr)
			}
			alert.Warnf("failed to record submission of request %s: %s", transfer.RequestID, err)
		}
	}
	return nil
}
