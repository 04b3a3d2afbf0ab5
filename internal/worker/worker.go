package worker

import (
	"context"
	"errors"

	"clinic-service/internal/broker"
	"clinic-service/internal/models"
	"clinic-service/internal/notify"
	"clinic-service/internal/util"

	"go.uber.org/zap"
)

// Deliverer sends one message synchronously
type Deliverer interface {
	Deliver(ctx context.Context, msg notify.Message) error
}

// AlertWorker consumes the events topic and mails admin alerts
type AlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	templates    *notify.Templates
	dispatcher   Deliverer
	logger       *zap.Logger
}

// NewAlertWorker creates a new alert worker
func NewAlertWorker(consumer *broker.Consumer, templates *notify.Templates, dispatcher Deliverer) *AlertWorker {
	w := &AlertWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		templates:    templates,
		dispatcher:   dispatcher,
		logger:       util.Named("alerts"),
	}
	w.eventHandler.On(models.EventAdminAlert, w.handleAlert)
	return w
}

// Start blocks until ctx is cancelled
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping alert worker")
	return w.consumer.Close()
}

func (w *AlertWorker) handleAlert(ctx context.Context, ev models.Event) error {
	for _, msg := range w.templates.Render(ev) {
		err := w.dispatcher.Deliver(ctx, msg)
		if err != nil && !errors.Is(err, notify.ErrDuplicate) {
			w.logger.Warn("Admin alert not delivered", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return nil
}
