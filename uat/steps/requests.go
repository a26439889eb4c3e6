package steps

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/gridfab/courier/uat/harness"
)

func init() {
	addStep(`^a queued request to copy (\w+):([\w\.\-/]+) from (\w+) to (\w+)$`, aQueuedRequest)
	addStep(`^a queued request to copy (\w+):([\w\.\-/]+) from (\w+) to (\w+) under rule ([\w\-]+)$`, aQueuedRequestUnderRule)
	addStep(`^the request for (\w+):([\w\.\-/]+) should be submitted$`, requestShouldBeSubmitted)
	addStep(`^the request for (\w+):([\w\.\-/]+) should not be submitted$`, requestShouldNotBeSubmitted)
	addStep(`^the submitted job should have (\d+) transfers?$`, jobShouldHaveTransfers)
	addStep(`^the submitted job should be flagged multihop$`, jobShouldBeMultihop)
	addStep(`^the submitted job should (overwrite|not overwrite) at the destination$`, jobOverwriteMode)
	addStep(`^the submitted job should request tape staging$`, jobShouldStageFromTape)
	addStep(`^(\w+):([\w\.\-/]+) and (\w+):([\w\.\-/]+) should share a job$`, requestsShouldShareJob)
}

func aQueuedRequest(scope, name, src, dst string) error {
	return aQueuedRequestUnderRule(scope, name, src, dst, "")
}

func aQueuedRequestUnderRule(scope, name, src, dst, rule string) error {
	ctx.DaemonConfig.AddRequest(&harness.SeedRequest{
		Scope:    scope,
		Name:     name,
		Bytes:    4096,
		Source:   src,
		Dest:     dst,
		Activity: "staging",
		Rule:     rule,
	})
	return nil
}

func requestShouldBeSubmitted(scope, name string) error {
	if ctx.Service == nil {
		return fmt.Errorf("No transfer service is running; start the daemon first")
	}

	submitted := func() error {
		job := ctx.Service.JobFor(scope, name)
		if job == nil {
			return errors.Errorf("no job for %s:%s yet", scope, name)
		}
		ctx.LastJob = job
		return nil
	}
	return waitFor(submitted, SubmitTimeout)
}

func requestShouldNotBeSubmitted(scope, name string) error {
	if ctx.Service == nil {
		return fmt.Errorf("No transfer service is running; start the daemon first")
	}

	// Not much to be done besides giving the daemon a few cycles
	// in which to do the wrong thing.
	time.Sleep(2 * time.Second)

	if job := ctx.Service.JobFor(scope, name); job != nil {
		return errors.Errorf("request for %s:%s was submitted as job %s", scope, name, job.ID)
	}
	return nil
}

func jobShouldHaveTransfers(count int) error {
	job := ctx.LastJob
	if job == nil {
		return fmt.Errorf("No job in context; check a submission first")
	}

	if len(job.Transfers) != count {
		return errors.Errorf("job %s carries %d transfers, expected %d", job.ID, len(job.Transfers), count)
	}
	return nil
}

func jobShouldBeMultihop() error {
	job := ctx.LastJob
	if job == nil {
		return fmt.Errorf("No job in context; check a submission first")
	}

	if !job.Params.Multihop {
		return errors.Errorf("job %s is not flagged multihop", job.ID)
	}
	return nil
}

func jobOverwriteMode(mode string) error {
	job := ctx.LastJob
	if job == nil {
		return fmt.Errorf("No job in context; check a submission first")
	}

	want := mode == "overwrite"
	if job.Params.Overwrite != want {
		return errors.Errorf("job %s has overwrite=%t, expected %t", job.ID, job.Params.Overwrite, want)
	}
	return nil
}

func jobShouldStageFromTape() error {
	job := ctx.LastJob
	if job == nil {
		return fmt.Errorf("No job in context; check a submission first")
	}

	if job.Params.BringOnline <= 0 {
		return errors.Errorf("job %s does not request staging (bring_online=%d)", job.ID, job.Params.BringOnline)
	}
	if job.Params.Lifetime <= 0 {
		return errors.Errorf("job %s does not pin staged copies (copy_pin_lifetime=%d)", job.ID, job.Params.Lifetime)
	}
	return nil
}

func requestsShouldShareJob(scopeA, nameA, scopeB, nameB string) error {
	if ctx.Service == nil {
		return fmt.Errorf("No transfer service is running; start the daemon first")
	}

	jobA := ctx.Service.JobFor(scopeA, nameA)
	jobB := ctx.Service.JobFor(scopeB, nameB)
	if jobA == nil || jobB == nil {
		return errors.Errorf("missing a job for %s:%s or %s:%s", scopeA, nameA, scopeB, nameB)
	}

	if jobA.ID != jobB.ID {
		return errors.Errorf("%s:%s rode job %s but %s:%s rode job %s", scopeA, nameA, jobA.ID, scopeB, nameB, jobB.ID)
	}
	return nil
}
