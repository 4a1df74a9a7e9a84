package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/studio1767/dsarchive/internal/archiveio"
	"github.com/studio1767/dsarchive/internal/events"
)

type State string

const (
	StateOK     State = "ok"
	StateFailed State = "failed"
	StateError  State = "error"
)

// TotalSteps is the number of ingest steps reported to users.
const TotalSteps = 7

// SummaryLimit caps the length of an error summary.
const SummaryLimit = 255

var taskSteps = []struct {
	task string
	step int
}{
	{"open tar", 2},
	{"policy validation", 3},
	{"load metadata", 4},
	{"ingest files", 5},
	{"ingest metadata", 6},
}

// JobStatus is a snapshot of an ingest job.
type JobStatus struct {
	JobID     int64
	State     State
	Task      string
	Percent   float64
	Exception string
	Step      int
	Summary   string
}

// Terminal reports whether the job will not change state any more.
func (js *JobStatus) Terminal() bool {
	return js.Succeeded() || js.State == StateFailed || js.State == StateError
}

func (js *JobStatus) Succeeded() bool {
	return js.State == StateOK && js.Percent >= 100
}

// Step maps the job's current task onto the user visible step number.
// Unknown tasks fall back to the completion percentage.
func Step(state State, task string, percent float64) int {
	if state == StateOK && percent >= 100 {
		return TotalSteps
	}

	t := strings.ToLower(strings.TrimSpace(task))
	for _, ts := range taskSteps {
		if t == ts.task {
			return ts.step
		}
	}

	step := int(math.Ceil(percent / 100 * TotalSteps))
	return min(max(step, 1), TotalSteps)
}

var (
	detailPattern = regexp.MustCompile(`"(?:message|errorMessage)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	framePattern  = regexp.MustCompile(`^\s+`)
)

// SummarizeError turns a server side exception into one short line: the
// traceback frames are dropped, a "message" or "errorMessage" detail is
// preferred when present, and whitespace is collapsed.
func SummarizeError(trace string) string {
	if m := detailPattern.FindStringSubmatch(trace); m != nil {
		detail, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil {
			detail = m[1]
		}
		return truncate(strings.Join(strings.Fields(detail), " "))
	}

	var kept []string
	for _, line := range strings.Split(trace, "\n") {
		if strings.HasPrefix(line, "Traceback (most recent call last)") {
			continue
		}
		if framePattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	return truncate(strings.Join(strings.Fields(strings.Join(kept, " ")), " "))
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= SummaryLimit {
		return s
	}
	return string(runes[:SummaryLimit])
}

type PollerOptions struct {
	IngestURL string
	Timeout   time.Duration
}

// Poller reads the state of ingest jobs. Check makes a single request;
// retrying is up to the caller.
type Poller struct {
	cl   archiveio.Client
	opts PollerOptions
	obs  events.Observer
}

func NewPoller(cl archiveio.Client, opts PollerOptions, obs events.Observer) *Poller {
	return &Poller{
		cl:   cl,
		opts: opts,
		obs:  events.Or(obs),
	}
}

type stateReply struct {
	JobID       json.Number `json:"job_id"`
	State       string      `json:"state"`
	Task        string      `json:"task"`
	TaskPercent json.Number `json:"task_percent"`
	Exception   string      `json:"exception"`
}

func (p *Poller) Check(ctx context.Context, jobID int64) (*JobStatus, error) {
	resp, err := p.cl.Get(ctx, StatusURL(p.opts.IngestURL, jobID), p.opts.Timeout)
	if err != nil {
		return nil, err
	}

	var reply stateReply
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, fmt.Errorf("unable to parse ingest state for job %d: %w", jobID, err)
	}

	js := &JobStatus{
		JobID:     jobID,
		Task:      reply.Task,
		Exception: reply.Exception,
	}

	switch State(strings.ToLower(reply.State)) {
	case StateOK:
		js.State = StateOK
	case StateFailed:
		js.State = StateFailed
	default:
		js.State = StateError
	}

	if reply.TaskPercent != "" {
		if js.Percent, err = reply.TaskPercent.Float64(); err != nil {
			return nil, fmt.Errorf("invalid task percent %q for job %d", reply.TaskPercent, jobID)
		}
	}

	js.Step = Step(js.State, js.Task, js.Percent)
	if js.Exception != "" {
		js.Summary = SummarizeError(js.Exception)
	} else if js.State != StateOK {
		js.Summary = fmt.Sprintf("ingest state %q", reply.State)
	}

	return js, nil
}

// Wait polls until the job reaches a terminal state or ctx is done.
func (p *Poller) Wait(ctx context.Context, jobID int64, interval time.Duration) (*JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		js, err := p.Check(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if js.Step != last {
			last = js.Step
			p.obs.Status(ctx, "ingest progress",
				"job_id", jobID,
				"step", fmt.Sprintf("%d/%d", js.Step, TotalSteps),
				"task", js.Task,
			)
		}
		if js.Terminal() {
			if !js.Succeeded() {
				p.obs.Error(ctx, "ingest failed", "job_id", jobID, "summary", js.Summary)
			}
			return js, nil
		}

		select {
		case <-ctx.Done():
			return js, ctx.Err()
		case <-ticker.C:
		}
	}
}
