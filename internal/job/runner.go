package job

import (
	"context"
	"os"
	"time"

	"github.com/aschie4589/quantumhive-worker/internal/apiclient"
	"github.com/aschie4589/quantumhive-worker/internal/artifact"
	"github.com/aschie4589/quantumhive-worker/internal/history"
	"github.com/aschie4589/quantumhive-worker/internal/process"
	"github.com/aschie4589/quantumhive-worker/internal/telemetry"
)

// MainLoop runs until ctx is cancelled. While running() is false it idles
// without fetching new jobs (the pause() behavior); otherwise it fetches
// and drives one job at a time.
func (r *Runner) MainLoop(ctx context.Context, running func() bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if running != nil && !running() {
			sleepCtx(ctx, pauseBetweenPolls)
			continue
		}

		j, err := r.api.GetJob(ctx)
		if err != nil {
			r.logger.Warn("get_job failed", "error", err)
			sleepCtx(ctx, pauseBetweenPolls)
			continue
		}
		if j == nil {
			sleepCtx(ctx, pauseBetweenPolls)
			continue
		}

		r.runJob(ctx, *j)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// runJob drives j from HAVE_JOB through to IDLE, handling cancellation if
// ctx is cancelled while RUNNING.
func (r *Runner) runJob(ctx context.Context, j apiclient.Job) {
	r.mu.Lock()
	r.job = &j
	r.jobStart = time.Now()
	r.mu.Unlock()
	r.progress.Reset()
	r.setState(HaveJob)

	var vectorIn, krausIn string
	if j.Kind == apiclient.KindMinimize {
		var err error
		vectorIn, krausIn, err = r.acquireInputs(ctx, j)
		if err != nil {
			r.logger.Error("input acquisition failed", "job_id", j.ID, "error", err)
			r.recordHistory(j, history.OutcomeFailed, 0)
			r.finishJob(Failed)
			return
		}
	}

	select {
	case <-ctx.Done():
		// Cancelled before the child ever ran: nothing to flush.
		r.recordHistory(j, history.OutcomeCancelled, 0)
		r.finishJob(Idle)
		return
	default:
	}

	r.setState(Running)
	handle, args, err := r.spawnChild(j, vectorIn, krausIn)
	if err != nil {
		r.logger.Error("spawn failed", "job_id", j.ID, "error", err)
		r.recordHistory(j, history.OutcomeFailed, 0)
		r.finishJob(Failed)
		return
	}
	r.logger.Info("child spawned", "job_id", j.ID, "job_type", j.Kind, "args", args)

	go drainQuiet(handle.StderrChan)
	go telemetry.Run(handle.StdoutChan, r.progress, r.ring, func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	})

	doneCh := make(chan childExit, 1)
	go func() {
		ok, err := handle.AwaitExit()
		doneCh <- childExit{ok, err}
	}()

	select {
	case <-ctx.Done():
		r.cancelRunningJob(j, handle, doneCh)
	case res := <-doneCh:
		r.completeRunningJob(j, res.ok, res.err)
	}
}

func drainQuiet(ch <-chan string) {
	for range ch {
	}
}

// acquireInputs downloads the vector and kraus artifacts for a minimize
// job, recording each in the Artifact Index. Missing file ids are fatal.
func (r *Runner) acquireInputs(ctx context.Context, j apiclient.Job) (vectorPath, krausPath string, err error) {
	if j.VectorFileID == "" || j.KrausFileID == "" {
		return "", "", errMissingFileIDs
	}

	vectorPath = r.inFile(j.VectorFileID)
	if err := r.downloadInput(ctx, j.VectorFileID, artifact.Vector, vectorPath); err != nil {
		return "", "", err
	}

	krausPath = r.inFile(j.KrausFileID)
	if err := r.downloadInput(ctx, j.KrausFileID, artifact.Kraus, krausPath); err != nil {
		return "", "", err
	}

	return vectorPath, krausPath, nil
}

func (r *Runner) downloadInput(ctx context.Context, fileID string, kind artifact.Kind, dest string) error {
	link, err := r.api.RequestDownloadLink(ctx, fileID)
	if err != nil {
		return err
	}
	if err := r.api.DownloadFile(ctx, link, dest); err != nil {
		return err
	}
	if err := r.index.RecordInput(fileID, kind, dest); err != nil {
		return err
	}
	r.checksumInput(fileID, dest)
	return nil
}

// checksumInput computes and records a local integrity fingerprint for a
// freshly downloaded input artifact, when enabled. Like the server's own
// protocol, a checksum failure is advisory: logged, never fatal to the job.
func (r *Runner) checksumInput(fileID, path string) {
	if !r.cfg.EnableIntegrityCheck {
		return
	}
	sum, err := artifact.Checksum(path, artifact.SHA256)
	if err != nil {
		r.logger.Warn("input checksum failed", "file_id", fileID, "error", err)
		return
	}
	if err := r.index.SetInputChecksum(fileID, sum); err != nil {
		r.logger.Warn("recording input checksum failed", "file_id", fileID, "error", err)
	}
}

// checksumOutput computes and records a local integrity fingerprint for a
// produced output artifact, when enabled.
func (r *Runner) checksumOutput(jobID int64, path string) {
	if !r.cfg.EnableIntegrityCheck {
		return
	}
	sum, err := artifact.Checksum(path, artifact.SHA256)
	if err != nil {
		r.logger.Warn("output checksum failed", "job_id", jobID, "error", err)
		return
	}
	if err := r.index.SetOutputChecksum(jobID, sum); err != nil {
		r.logger.Warn("recording output checksum failed", "job_id", jobID, "error", err)
	}
}

// spawnChild dispatches on job_type to build the right argv and starts the
// compute binary. The output path is pre-created first (size 0, so no
// free-space check is made) so an unwritable output folder fails the job
// before the child ever runs, rather than being discovered only once the
// child has already produced (and lost) partial output.
func (r *Runner) spawnChild(j apiclient.Job, vectorIn, krausIn string) (*process.Handle, []string, error) {
	out := r.outFile(j.ID)
	if err := artifact.Allocate(out, 0); err != nil {
		return nil, nil, err
	}

	var args []string
	switch j.Kind {
	case apiclient.KindGenerateKraus:
		args = r.sup.KrausArgs(j.InputDimension, j.NumberKraus, out)
	case apiclient.KindGenerateVector:
		args = r.sup.VectorArgs(j.InputDimension, out)
	case apiclient.KindMinimize:
		args = r.sup.SingleshotArgs(out, vectorIn, krausIn, process.SingleshotOptions{})
	default:
		return nil, nil, errUnknownJobType
	}
	h, err := r.sup.Spawn(args)
	return h, args, err
}

// completeRunningJob handles the child exiting on its own: on success,
// record and upload the output, report minimize progress, and
// complete_job; on failure, the job transitions to FAILED and the upload
// step is skipped.
func (r *Runner) completeRunningJob(j apiclient.Job, ok bool, runErr error) {
	if runErr != nil || !ok {
		r.logger.Warn("child exited with failure", "job_id", j.ID, "error", runErr)
		r.recordHistory(j, history.OutcomeFailed, 0)
		r.finishJob(Failed)
		return
	}

	ctx := context.Background()
	out := r.outFile(j.ID)
	if err := r.index.RecordOutput(j.ID, toArtifactKind(j.UploadFileType()), out); err != nil {
		r.logger.Error("recording output in artifact index failed", "job_id", j.ID, "error", err)
		r.recordHistory(j, history.OutcomeFailed, 0)
		r.finishJob(Failed)
		return
	}
	r.checksumOutput(j.ID, out)

	r.setState(Uploading)
	if err := r.uploadOutput(ctx, j, out); err != nil {
		r.logger.Error("upload failed", "job_id", j.ID, "error", err)
		r.recordHistory(j, history.OutcomeFailed, outputSize(out))
		r.finishJob(Failed)
		return
	}

	if j.Kind == apiclient.KindMinimize {
		r.reportProgress(ctx, j.ID)
	}

	r.setState(Completing)
	if err := r.api.CompleteJob(ctx, j.ID); err != nil {
		r.logger.Error("complete_job failed", "job_id", j.ID, "error", err)
		r.recordHistory(j, history.OutcomeFailed, outputSize(out))
		r.finishJob(Failed)
		return
	}
	r.recordHistory(j, history.OutcomeCompleted, outputSize(out))
	r.finishJob(Idle)
}

// childExit is the outcome of awaiting the compute child's exit.
type childExit struct {
	ok  bool
	err error
}

// cancelRunningJob handles a controller-initiated stop while the child is
// RUNNING. It terminates the child and awaits its exit; for minimize jobs
// it then performs the partial-progress flush before cancel_job, and for
// other job types it simply discards the in-progress work.
func (r *Runner) cancelRunningJob(j apiclient.Job, handle *process.Handle, doneCh <-chan childExit) {
	r.setState(Cancelling)
	_ = handle.Terminate()
	<-doneCh // drain to let the pipes finish and the child be reaped

	if j.Kind != apiclient.KindMinimize {
		// Generation work is simply discarded; the server's timeout
		// handles reassignment.
		r.recordHistory(j, history.OutcomeCancelled, 0)
		r.finishJob(Idle)
		return
	}

	ctx := context.Background()
	out := r.outFile(j.ID)
	if stat, err := statExists(out); err == nil && stat {
		if err := r.index.RecordOutput(j.ID, toArtifactKind(j.UploadFileType()), out); err == nil {
			r.checksumOutput(j.ID, out)
			r.setState(Uploading)
			_ = r.uploadOutput(ctx, j, out)
		}
	}

	r.reportProgress(ctx, j.ID)
	if err := r.api.CancelJob(ctx, j.ID); err != nil {
		r.logger.Error("cancel_job failed", "job_id", j.ID, "error", err)
	}
	r.recordHistory(j, history.OutcomeCancelled, outputSize(out))
	r.finishJob(Idle)
}

// outputSize returns the size of the artifact at path, or 0 if it does not
// exist or cannot be stat'd.
func outputSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// recordHistory appends the outcome of the current job run to the local
// history ledger, if one is wired. Ledger failures are logged, not fatal:
// the job's own outcome (already reported to the server) is unaffected.
func (r *Runner) recordHistory(j apiclient.Job, outcome history.Outcome, bytesSent int64) {
	if r.history == nil {
		return
	}
	r.mu.RLock()
	started := r.jobStart
	r.mu.RUnlock()
	if started.IsZero() {
		started = time.Now()
	}
	rec := history.Record{
		JobID:     j.ID,
		JobType:   string(j.Kind),
		Outcome:   outcome,
		BytesSent: bytesSent,
		Duration:  time.Since(started).Seconds(),
		StartedAt: started,
		EndedAt:   time.Now(),
	}
	if err := r.history.Record(rec); err != nil {
		r.logger.Warn("recording job history failed", "job_id", j.ID, "error", err)
	}
}

func (r *Runner) uploadOutput(ctx context.Context, j apiclient.Job, path string) error {
	link, err := r.api.RequestUploadLink(ctx)
	if err != nil {
		return err
	}
	return r.api.UploadFile(ctx, j.ID, j.UploadFileType(), path, link)
}

func (r *Runner) reportProgress(ctx context.Context, jobID int64) {
	iter, entropy, hasEntropy := r.progress.Snapshot()
	if iter > 0 {
		if err := r.api.UpdateIterations(ctx, jobID, iter); err != nil {
			r.logger.Warn("update_iterations failed", "job_id", jobID, "error", err)
		}
	}
	if hasEntropy {
		if err := r.api.UpdateEntropy(ctx, jobID, entropy); err != nil {
			r.logger.Warn("update_entropy failed", "job_id", jobID, "error", err)
		}
	}
}

// finishJob records the terminal state reached (useful for the brief
// observation window an observer might catch it in) and then returns the
// runner to IDLE, ready to fetch the next job.
func (r *Runner) finishJob(terminal State) {
	r.setState(terminal)
	r.mu.Lock()
	r.job = nil
	r.mu.Unlock()
	r.setState(Idle)
}
