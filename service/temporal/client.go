package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
)

var (
	// ErrSettlementExists means a settlement for the signature is running or already completed.
	ErrSettlementExists = errors.New("settlement already started")
	// ErrSettlementNotFound means no workflow exists with the requested id.
	ErrSettlementNotFound = errors.New("settlement not found")
)

// Settlement workflow states reported by GetSettlementStatus.
const (
	SettlementRunning    = "running"
	SettlementCompleted  = "completed"
	SettlementFailed     = "failed"
	SettlementTimedOut   = "timed_out"
	SettlementCanceled   = "canceled"
	SettlementTerminated = "terminated"
	SettlementUnknown    = "unknown"
)

// SettlementStatus describes a settlement workflow execution.
type SettlementStatus struct {
	WorkflowID string                `json:"workflow_id"`
	Status     string                `json:"status"`
	StartedAt  time.Time             `json:"started_at"`
	Result     *SettleTransferResult `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	Code       string                `json:"code,omitempty"`
}

// Client starts and inspects settlement workflows.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// StartSettlement starts SettleTransferWorkflow for signature and returns the workflow id.
// A second start for the same signature fails with ErrSettlementExists unless the
// earlier run failed.
func (c *Client) StartSettlement(ctx context.Context, payerAddress, signature string) (string, error) {
	id := SettlementWorkflowID(signature)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                c.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo: map[string]interface{}{
			"payer_address": payerAddress,
			"signature":     signature,
		},
	}, SettleTransferWorkflowName, SettleTransferInput{
		PayerAddress: payerAddress,
		Signature:    signature,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return id, ErrSettlementExists
		}
		c.logger.ErrorContext(ctx, "failed to start settlement",
			"signature", signature,
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "settlement started",
		"signature", signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return run.GetID(), nil
}

// GetSettlementStatus describes the latest run of a settlement workflow.
// Completed runs carry their result; failed runs carry the error and its code.
func (c *Client) GetSettlementStatus(ctx context.Context, workflowID string) (*SettlementStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &SettlementStatus{
		WorkflowID: workflowID,
		Status:     settlementState(info.GetStatus()),
	}
	if info.GetStartTime() != nil {
		status.StartedAt = info.GetStartTime().AsTime()
	}

	switch status.Status {
	case SettlementCompleted, SettlementFailed:
		var result *SettleTransferResult
		err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result)
		if err != nil {
			status.Error = err.Error()
			var appErr *temporal.ApplicationError
			if errors.As(err, &appErr) {
				status.Code = appErr.Type()
			}
		} else {
			status.Result = result
		}
	}

	return status, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func settlementState(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return SettlementRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return SettlementCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return SettlementFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return SettlementTimedOut
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return SettlementCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return SettlementTerminated
	default:
		return SettlementUnknown
	}
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger.With("component", "temporal_sdk")}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
