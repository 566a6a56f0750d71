package ingest

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/yvan/internal/ledger"
	"github.com/hyperjump/yvan/internal/models"
	"github.com/hyperjump/yvan/pkg/utils"
)

// Job is one queued ingestion request.
type Job struct {
	ID      string
	Path    string
	Trigger models.Trigger
	// SkipKnown skips files whose digest the ledger already holds for this index.
	SkipKnown bool
}

type outcome struct {
	res *models.IngestResult
	err error
}

type request struct {
	job  Job
	done chan outcome
}

// Start launches the consumer. Jobs accepted before ctx is done always run to
// completion; cancelling ctx only stops the consumer from taking new ones.
// After the consumer stops, Start may be called again until Close.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.run(ctx, p.done)
}

// Stop stops the consumer started by Start and waits for the running job.
// Unlike Close, the pipeline can be started again.
func (p *Pipeline) Stop() {
	p.mu.RLock()
	cancel := p.cancel
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer p.wg.Done()
	defer func() {
		// done is closed before taking mu: a Submit blocked under the read lock waits on it.
		close(done)
		p.mu.Lock()
		if p.done == done {
			p.started = false
		}
		p.mu.Unlock()
	}()
	p.logger.Debug("ingest consumer started")
	for {
		select {
		case req, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("ingest consumer stopped")
				return
			}
			res, err := p.process(ctx, req.job)
			req.done <- outcome{res: res, err: err}
		case <-ctx.Done():
			p.logger.Debug("ingest consumer canceled")
			return
		}
	}
}

// Submit queues job and waits for its result. If ctx ends while waiting the job
// still runs; only the caller stops waiting.
func (p *Pipeline) Submit(ctx context.Context, job Job) (*models.IngestResult, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	req := &request{job: job, done: make(chan outcome, 1)}

	p.mu.RLock()
	if p.closed || !p.started {
		p.mu.RUnlock()
		return nil, fmt.Errorf("%w: cannot submit %s", models.ErrClosed, job.Path)
	}
	select {
	case p.jobs <- req:
	case <-p.done:
		p.mu.RUnlock()
		return nil, fmt.Errorf("%w: cannot submit %s", models.ErrClosed, job.Path)
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case out := <-req.done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs, waits for the running one and stops the consumer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	cancel := p.cancel
	p.mu.Unlock()
	p.wg.Wait()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, job Job) (*models.IngestResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := p.logger.With(zap.String("job", job.ID), zap.String("path", job.Path), zap.String("trigger", string(job.Trigger)))
	rec := &ledger.Record{
		ID:      job.ID,
		Source:  filepath.Base(job.Path),
		Path:    job.Path,
		IndexID: p.index.ID(),
		Trigger: job.Trigger,
	}

	digest, err := utils.FileSHA256(job.Path)
	if err != nil {
		err = fmt.Errorf("%w: %w", models.ErrLoad, err)
		p.record(ctx, log, rec, nil, err)
		return nil, err
	}
	rec.SHA256 = digest

	if job.SkipKnown && p.ledger != nil {
		known, err := p.ledger.HasDigest(ctx, rec.IndexID, digest)
		if err != nil {
			log.Warn("ledger lookup failed, ingesting anyway", zap.Error(err))
		} else if known {
			res := &models.IngestResult{Source: rec.Source, Skipped: true, Note: "already ingested"}
			p.record(ctx, log, rec, res, nil)
			log.Debug("skipping known file")
			return res, nil
		}
	}

	res, err := p.Ingest(ctx, job.Path)
	if err != nil {
		log.Warn("ingestion failed", zap.String("kind", models.ErrorKind(err)), zap.Error(err))
	} else {
		log.Info("ingestion finished", zap.Int("chunks", res.ChunkCount), zap.Bool("no_text", res.NoText))
	}
	p.record(ctx, log, rec, res, err)
	return res, err
}

func (p *Pipeline) record(ctx context.Context, log *zap.Logger, rec *ledger.Record, res *models.IngestResult, ingestErr error) {
	if p.ledger == nil {
		return
	}
	switch {
	case ingestErr != nil:
		rec.Status = ledger.StatusFailed
		rec.Error = ingestErr.Error()
	case res.Skipped:
		rec.Status = ledger.StatusSkipped
		rec.Note = res.Note
	case res.NoText:
		rec.Status = ledger.StatusNoText
		rec.Note = res.Note
	default:
		rec.Status = ledger.StatusIngested
		rec.ChunkCount = res.ChunkCount
	}
	if res != nil && res.Source != "" {
		rec.Source = res.Source
	}
	if err := p.ledger.Record(ctx, rec); err != nil {
		log.Warn("failed to record ingestion", zap.Error(err))
	}
}
