package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobKind tags a job payload.
type JobKind string

const (
	KindRunAudit            JobKind = "run_audit"
	KindCrawlComplete       JobKind = "crawl_complete"
	KindAnalyzeObservations JobKind = "analyze_observations"
	KindGenerateReport      JobKind = "generate_report"
	KindCheckTimeout        JobKind = "check_timeout"
)

// Job is the sealed union of queue payloads. Every job concerns one order.
type Job interface {
	Kind() JobKind
	OrderID() string
	isJob()
}

type RunAuditJob struct {
	AuditOrderID string `json:"auditOrderId"`
}

// CrawlCompleteJob carries an accepted crawl callback.
type CrawlCompleteJob struct {
	AuditOrderID string `json:"auditOrderId"`
	// AgentID identifies the crawl run that reported, when the agent sends it.
	AgentID      string          `json:"agentId,omitempty"`
	Status       string          `json:"status"`
	Observations json.RawMessage `json:"observations,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type AnalyzeObservationsJob struct {
	AuditOrderID string `json:"auditOrderId"`
}

type GenerateReportJob struct {
	AuditOrderID string `json:"auditOrderId"`
}

type CheckTimeoutJob struct {
	AuditOrderID string `json:"auditOrderId"`
}

func (RunAuditJob) Kind() JobKind            { return KindRunAudit }
func (CrawlCompleteJob) Kind() JobKind       { return KindCrawlComplete }
func (AnalyzeObservationsJob) Kind() JobKind { return KindAnalyzeObservations }
func (GenerateReportJob) Kind() JobKind      { return KindGenerateReport }
func (CheckTimeoutJob) Kind() JobKind        { return KindCheckTimeout }

func (j RunAuditJob) OrderID() string            { return j.AuditOrderID }
func (j CrawlCompleteJob) OrderID() string       { return j.AuditOrderID }
func (j AnalyzeObservationsJob) OrderID() string { return j.AuditOrderID }
func (j GenerateReportJob) OrderID() string      { return j.AuditOrderID }
func (j CheckTimeoutJob) OrderID() string        { return j.AuditOrderID }

func (RunAuditJob) isJob()            {}
func (CrawlCompleteJob) isJob()       {}
func (AnalyzeObservationsJob) isJob() {}
func (GenerateReportJob) isJob()      {}
func (CheckTimeoutJob) isJob()        {}

// DecodeJob turns a stored (kind, payload) pair back into a Job.
func DecodeJob(kind JobKind, payload []byte) (Job, error) {
	var (
		job Job
		err error
	)
	switch kind {
	case KindRunAudit:
		var j RunAuditJob
		err = json.Unmarshal(payload, &j)
		job = j
	case KindCrawlComplete:
		var j CrawlCompleteJob
		err = json.Unmarshal(payload, &j)
		job = j
	case KindAnalyzeObservations:
		var j AnalyzeObservationsJob
		err = json.Unmarshal(payload, &j)
		job = j
	case KindGenerateReport:
		var j GenerateReportJob
		err = json.Unmarshal(payload, &j)
		job = j
	case KindCheckTimeout:
		var j CheckTimeoutJob
		err = json.Unmarshal(payload, &j)
		job = j
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s job: %w", kind, err)
	}
	if job.OrderID() == "" {
		return nil, fmt.Errorf("decode %s job: missing audit order id", kind)
	}
	return job, nil
}

// JobQueue is how use cases schedule the next stage.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	EnqueueIn(ctx context.Context, job Job, delay time.Duration) error
}

// JobRecord is a job as persisted by a JobStore.
type JobRecord struct {
	ID          string
	Queue       string
	Kind        JobKind
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string
}

// JobStore supports claiming and settling queued jobs. Claims are leases:
// a running job whose lease expired becomes claimable again.
type JobStore interface {
	Insert(ctx context.Context, rec JobRecord) error
	ClaimNext(ctx context.Context, queue string, lease time.Duration) (job JobRecord, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkRetry(ctx context.Context, jobID string, reason string, runAt time.Time) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
}
