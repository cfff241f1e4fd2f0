package poller

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("poller",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLease),
	fx.Provide(New),
)

// Run starts the poll loop with the application and waits for the
// in-flight cycle to wind down on stop.
var Run = fx.Invoke(StartPoller)

func StartPoller(lc fx.Lifecycle, p *Poller) {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				p.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
