package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/kestrelhq/solsync/service/txsync"
)

// refreshWorkflowID is the fixed workflow id of the refresh chain. Using one
// stable id means Temporal rejects a second start while a chain is delayed
// or running, so re-arming on every worker startup cannot fork the chain.
const refreshWorkflowID = "refreshAccounts"

// workflowStarter is the slice of client.Client the scheduler needs. It is an
// interface so scheduling behavior is testable without a server connection.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Client wraps the Temporal SDK client and implements the engine's Scheduler
// interface via delayed one-shot workflow starts.
type Client struct {
	client    client.Client
	starter   workflowStarter
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

	return &Client{
		client:    c,
		starter:   c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// ScheduleOnce starts a one-shot workflow for the task after the given
// delay. Refresh tasks share one stable workflow id, so concurrent armings
// collapse onto whichever chain already exists.
func (c *Client) ScheduleOnce(ctx context.Context, task txsync.Task, delay time.Duration) error {
	var workflowName string
	var workflowID string
	var args []any

	switch task.Method {
	case txsync.TaskRefreshAccounts:
		workflowName = "RefreshAccountsWorkflow"
		workflowID = refreshWorkflowID
	case txsync.TaskSynchronizeAccount:
		var input SynchronizeAccountInput
		if err := json.Unmarshal(task.Params, &input); err != nil {
			return fmt.Errorf("invalid params for %s: %w", task.Method, err)
		}
		workflowName = "SynchronizeAccountWorkflow"
		workflowID = fmt.Sprintf("%s-%d", task.Method, time.Now().UnixNano())
		args = []any{input}
	default:
		return fmt.Errorf("unknown task method %q", task.Method)
	}

	opts := client.StartWorkflowOptions{
		ID:         workflowID,
		TaskQueue:  c.taskQueue,
		StartDelay: delay,
	}

	_, err := c.starter.ExecuteWorkflow(ctx, opts, workflowName, args...)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			c.logger.InfoContext(ctx, "task already scheduled",
				"method", task.Method,
				"workflow_id", workflowID,
			)
			return nil
		}
		c.logger.ErrorContext(ctx, "failed to schedule task",
			"method", task.Method,
			"workflow_id", workflowID,
			"error", err,
		)
		return fmt.Errorf("failed to schedule %s: %w", task.Method, err)
	}

	c.logger.InfoContext(ctx, "scheduled task",
		"method", task.Method,
		"workflow_id", workflowID,
		"delay", delay,
	)

	return nil
}

// SignalLifecycleEvent starts a workflow that processes one transaction
// lifecycle notification immediately.
func (c *Client) SignalLifecycleEvent(ctx context.Context, event txsync.LifecycleEvent, params json.RawMessage) error {
	workflowID := fmt.Sprintf("lifecycle-%s-%d", event, time.Now().UnixNano())
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}

	input := LifecycleEventInput{Event: event, Params: params}
	_, err := c.starter.ExecuteWorkflow(ctx, opts, "LifecycleEventWorkflow", input)
	if err != nil {
		return fmt.Errorf("failed to start lifecycle workflow: %w", err)
	}

	c.logger.InfoContext(ctx, "started lifecycle workflow",
		"event", event,
		"workflow_id", workflowID,
	)

	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow
// operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
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
