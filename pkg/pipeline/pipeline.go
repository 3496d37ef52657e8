// Package pipeline drives jobs: fetch a source, turn it into lines and hand
// them to a sink writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rigcount/pkg/common"
	"rigcount/pkg/config"
	"rigcount/pkg/display"
	"rigcount/pkg/downloader"
	"rigcount/pkg/history"
	"rigcount/pkg/lockfile"
	"rigcount/pkg/parse"
	"rigcount/pkg/sink"
	"rigcount/pkg/transform"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds RunAll when the runner does not set a limit.
const DefaultConcurrency = 4

// Result summarizes one successful job.
type Result struct {
	Job       config.Job
	RunID     uuid.UUID
	MediaType string
	// Bytes is the decoded size of the fetched payload.
	Bytes   int64
	Records int
	Elapsed time.Duration
}

// Runner executes jobs. The zero value is not usable; build one with New.
// Immutable
type Runner struct {
	Loader      downloader.Loader
	Sinks       *sink.Factory
	Display     display.Display
	Concurrency int
	// History, when set, receives an entry for every run, failed or not.
	History *history.Store
}

// New returns a Runner. A nil display discards output.
func New(loader downloader.Loader, sinks *sink.Factory, disp display.Display) *Runner {
	if disp == nil {
		disp = display.Discard()
	}
	if sinks == nil {
		sinks = sink.Default
	}
	return &Runner{
		Loader:      loader,
		Sinks:       sinks,
		Display:     disp,
		Concurrency: DefaultConcurrency,
	}
}

// Run executes a single job. Settings are validated before the source is
// fetched, so configuration errors never cost a network call. The sink
// writer is closed on every path; lines already written are kept.
func (r *Runner) Run(ctx context.Context, job config.Job) (*Result, error) {
	start := time.Now()
	res := &Result{Job: job, RunID: uuid.New()}

	err := r.run(ctx, job, res)
	res.Elapsed = time.Since(start)
	r.record(res, err)
	if err != nil {
		return nil, err
	}

	r.Display.Print(fmt.Sprintf("%s: %s records (%s) written to %s in %s",
		job.Name,
		humanize.Comma(int64(res.Records)),
		humanize.Bytes(uint64(res.Bytes)),
		job.Destination,
		res.Elapsed.Round(time.Millisecond)))
	return res, nil
}

func (r *Runner) run(ctx context.Context, job config.Job, res *Result) error {
	if err := r.Sinks.Check(job.Format, job.Destination); err != nil {
		return err
	}
	if job.MediaType != "" {
		if _, err := parse.Lookup(job.MediaType); err != nil {
			return err
		}
	}

	task := r.Display.StartTask(job.Name)
	defer task.Done()
	task.Log(fmt.Sprintf("run %s", res.RunID))

	var tr *transform.Transform
	if job.Transform != "" {
		var err error
		if tr, err = transform.Load(job.Transform, task.Log); err != nil {
			return err
		}
	}

	stream, err := r.Loader.Load(ctx, job.Source)
	if err != nil {
		return err
	}
	res.Bytes = stream.Size

	res.MediaType = stream.MediaType
	if job.MediaType != "" {
		res.MediaType = job.MediaType
	}

	task.SetStage("Parse", res.MediaType)
	records, err := parse.Parse(ctx, res.MediaType, stream.Content, parse.Options{Query: job.Query, Member: job.Member})
	if err != nil {
		return fmt.Errorf("parse %s: %w", downloader.Redact(job.Source), err)
	}
	if tr != nil {
		task.SetStage("Transform", tr.Name)
		if records, err = tr.Apply(ctx, records); err != nil {
			return err
		}
	}
	lines, err := parse.Lines(records)
	if err != nil {
		return err
	}

	task.SetStage("Write", job.Destination)
	if !isStream(job.Destination) {
		release, err := lockfile.Acquire(ctx, job.Destination)
		if err != nil {
			return err
		}
		defer release()
	}

	err = r.Sinks.With(ctx, job.Format, job.Destination, func(ctx context.Context, w sink.Writer) error {
		for i, line := range lines {
			if err := w.WriteLine(ctx, line); err != nil {
				return err
			}
			task.Progress((i+1)*100/len(lines), fmt.Sprintf("%d / %d lines", i+1, len(lines)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", job.Destination, err)
	}

	res.Records = len(lines)
	return nil
}

func (r *Runner) record(res *Result, err error) {
	if r.History == nil {
		return
	}
	e := history.Entry{
		RunID:       res.RunID.String(),
		Job:         res.Job.Name,
		Source:      downloader.Redact(res.Job.Source),
		Format:      res.Job.Format,
		Destination: res.Job.Destination,
		MediaType:   res.MediaType,
		Records:     res.Records,
		Bytes:       res.Bytes,
		Finished:    time.Now().UTC(),
		ElapsedMS:   res.Elapsed.Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if herr := r.History.Add(e); herr != nil {
		r.Display.Log(fmt.Sprintf("history: %v", herr))
	}
}

// RunAll runs jobs concurrently, at most Concurrency at a time. A failing job
// does not stop the others; the failures are joined, each prefixed by its job
// name. Results are returned in job order with nil entries for failed jobs.
// Two jobs writing the same destination are rejected before anything runs.
func (r *Runner) RunAll(ctx context.Context, jobs []config.Job) ([]*Result, error) {
	if err := checkDestinations(jobs); err != nil {
		return nil, err
	}

	limit := r.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := r.Run(ctx, job)
			if err != nil {
				errs[i] = fmt.Errorf("job %s: %w", job.Name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	return results, errors.Join(errs...)
}

func checkDestinations(jobs []config.Job) error {
	seen := make(map[string]string, len(jobs))
	for _, job := range jobs {
		dest := strings.TrimSpace(job.Destination)
		if dest == "" || isStream(dest) {
			continue
		}
		key := filepath.Clean(dest)
		if prev, ok := seen[key]; ok {
			return common.NewConfigError(sink.LocationSetting,
				"jobs %s and %s both write to %s", prev, job.Name, dest)
		}
		seen[key] = job.Name
	}
	return nil
}

func isStream(dest string) bool {
	return dest == "/dev/stdout" || dest == "/dev/stderr"
}
