package ports

import "context"

// Notifier is the thin operator-facing reporting surface (out of scope
// beyond its interface, per §1). internal/adapters/notify renders to a
// console table.
type Notifier interface {
	Notify(ctx context.Context, event string, fields map[string]any) error
}
