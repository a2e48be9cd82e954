package orchestrator

import (
	"context"
	"fmt"

	"github.com/shaiso/meshflow/internal/engine"
	"github.com/shaiso/meshflow/internal/mq"
	"github.com/shaiso/meshflow/internal/telemetry"
)

// StartConsumer потребляет запросы из очереди runs.requests.
// Блокируется до отмены ctx.
func (o *Orchestrator) StartConsumer(ctx context.Context, conn *mq.Connection) error {
	consumer := mq.NewConsumer(conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunRequests),
		Handler:  o.HandleRequest,
		Prefetch: 10,
	})

	o.logger.Info("consuming run requests", "queue", mq.QueueRunRequests)
	return consumer.Start(ctx)
}

// HandleRequest маршрутизирует сообщение по типу.
// Логгер сообщения берётся из ctx (его кладёт mq.Consumer).
func (o *Orchestrator) HandleRequest(ctx context.Context, delivery *mq.Delivery) error {
	switch delivery.Message.Type {
	case mq.MessageTypeRunSubmit:
		return o.handleRunSubmit(ctx, delivery)
	case mq.MessageTypeRunRetry:
		return o.handleRunRetry(ctx, delivery)
	case mq.MessageTypeRunCancel:
		return o.handleRunCancel(ctx, delivery)
	default:
		return mq.Reject(fmt.Errorf("unknown message type %q", delivery.Message.Type))
	}
}

// handleRunSubmit обрабатывает запрос на запуск плана.
func (o *Orchestrator) handleRunSubmit(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.RunSubmitPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse run.submit payload", "error", err)
		return mq.Reject(err)
	}

	plan, _, err := engine.Resolve(payload.Plan)
	if err != nil {
		logger.Warn("run.submit rejected", "error", err)
		return mq.Reject(err)
	}

	runID, err := o.Run(ctx, plan, payload.Options)
	if err != nil {
		return classify(err)
	}

	logger.Debug("run.submit accepted", "run_id", runID)
	return nil
}

// handleRunRetry обрабатывает запрос на retry.
func (o *Orchestrator) handleRunRetry(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.RunRetryPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse run.retry payload", "error", err)
		return mq.Reject(err)
	}

	if err := o.Retry(ctx, payload.RunID, payload.StepIDs); err != nil {
		logger.Warn("run.retry failed", "run_id", payload.RunID, "error", err)
		return classify(err)
	}
	return nil
}

// handleRunCancel обрабатывает запрос на отмену.
func (o *Orchestrator) handleRunCancel(ctx context.Context, delivery *mq.Delivery) error {
	logger := telemetry.FromContext(ctx)

	payload, err := mq.ParsePayload[mq.RunCancelPayload](&delivery.Message)
	if err != nil {
		logger.Error("failed to parse run.cancel payload", "error", err)
		return mq.Reject(err)
	}

	if err := o.Cancel(ctx, payload.RunID); err != nil {
		logger.Warn("run.cancel failed", "run_id", payload.RunID, "error", err)
		return classify(err)
	}
	return nil
}

// classify: ошибки вызывающей стороны не исправятся повтором — сообщение в DLQ.
func classify(err error) error {
	if errorIsCaller(err) {
		return mq.Reject(err)
	}
	return err
}

var _ EventSink = (*mq.Publisher)(nil)
