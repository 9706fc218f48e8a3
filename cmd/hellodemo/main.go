// Command hellodemo is a three-process tracing demo. "hello" formats a
// greeting through the formatter service and prints it through the
// publisher service; one trace covers all three.
//
//	hellodemo formatter &
//	hellodemo publisher &
//	hellodemo hello Bryan --greeting Bonjour
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	configPath string
	logger     *zap.Logger
	tracer     minitrace.Tracer
	cancel     context.CancelFunc
}

// setup runs before every subcommand; the service name defaults to the
// subcommand's name.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	a.logger = logger.Named(cmd.Name())

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = cmd.Name()
	}

	var ctx context.Context
	ctx, a.cancel = context.WithCancel(context.Background())
	a.tracer, err = cfg.NewTracer(ctx, a.logger)
	return err
}

func (a *app) teardown(*cobra.Command, []string) error {
	defer a.logger.Sync()
	defer a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.tracer.Close(ctx)
}

// serve runs handler on addr until SIGINT or SIGTERM.
func (a *app) serve(addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: addr, Handler: handler}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:                "hellodemo",
		Short:              "Traced hello world across three processes",
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML tracer configuration; MINITRACE_* variables override it")

	root.AddCommand(
		newHelloCommand(a),
		newFormatterCommand(a),
		newPublisherCommand(a),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
