package dispatch

import (
	"context"

	"larder/internal/category"
	"larder/internal/notification"
)

// Per-category shorthands for Submit with the category's default priority.

func (d *Dispatcher) submitAs(ctx context.Context, c category.Category, title, message, source string) (notification.Receipt, error) {
	return d.Submit(ctx, notification.Request{Category: c, Title: title, Message: message, Source: source})
}

func (d *Dispatcher) Emergency(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Emergency, title, message, source)
}

func (d *Dispatcher) Security(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Security, title, message, source)
}

func (d *Dispatcher) Critical(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Critical, title, message, source)
}

func (d *Dispatcher) Error(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Error, title, message, source)
}

func (d *Dispatcher) Failure(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Failure, title, message, source)
}

func (d *Dispatcher) Warning(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Warning, title, message, source)
}

func (d *Dispatcher) Maintenance(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Maintenance, title, message, source)
}

func (d *Dispatcher) Resource(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Resource, title, message, source)
}

func (d *Dispatcher) Inventory(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Inventory, title, message, source)
}

func (d *Dispatcher) Staff(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Staff, title, message, source)
}

func (d *Dispatcher) Schedule(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Schedule, title, message, source)
}

func (d *Dispatcher) Budget(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Budget, title, message, source)
}

func (d *Dispatcher) Recipe(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Recipe, title, message, source)
}

func (d *Dispatcher) Completion(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Completion, title, message, source)
}

func (d *Dispatcher) Sync(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Sync, title, message, source)
}

func (d *Dispatcher) Update(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Update, title, message, source)
}

func (d *Dispatcher) Success(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Success, title, message, source)
}

func (d *Dispatcher) Info(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.Info, title, message, source)
}

func (d *Dispatcher) System(ctx context.Context, title, message, source string) (notification.Receipt, error) {
	return d.submitAs(ctx, category.System, title, message, source)
}
