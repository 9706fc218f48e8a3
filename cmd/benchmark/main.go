// Command benchmark runs span workloads described by a benchmark controller
// and reports how long they took. The controller serves /control and /result
// over HTTP and receives spans over gRPC.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/lightstep/minitrace-go"
	"github.com/lightstep/minitrace-go/collectorgrpc"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	controlPath = "/control"
	resultPath  = "/result"
	logsSizeMax = 1 << 20
)

var logPayloadStr string

func init() {
	lps := make([]byte, logsSizeMax)
	for i := 0; i < len(lps); i++ {
		lps[i] = 'A' + byte(i%26)
	}
	logPayloadStr = string(lps)
}

type control struct {
	Concurrent int // How many goroutines

	// How much work to perform under one span
	Work int64

	// How many repetitions
	Repeat int64

	// How many spans to nest under each repetition's root, each one active
	// while the next starts.
	Depth int64

	// How many amortized nanoseconds to sleep after each span
	Sleep time.Duration
	// How many nanoseconds to sleep at once
	SleepInterval time.Duration

	// How many bytes per log statement
	BytesPerLog int64
	NumLogs     int64

	// Misc control bits
	Trace bool // Trace the operation.
	Exit  bool // Terminate the test.
}

type testClient struct {
	baseURL string
	tracer  minitrace.Tracer
	noop    minitrace.Tracer
	logger  *zap.Logger
}

func work(n int64) int64 {
	const primeWork = 982451653
	x := int64(primeWork)
	for n != 0 {
		x *= primeWork
		n--
	}
	return x
}

func (t *testClient) getURL(path string) ([]byte, error) {
	resp, err := http.Get(t.baseURL + path)
	if err != nil {
		return nil, errors.Wrap(err, "bench control request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("bench control status %s: %s", resp.Status, path)
	}

	body, err := io.ReadAll(resp.Body)
	return body, errors.Wrap(err, "bench error reading body")
}

func (t *testClient) loop() error {
	for {
		body, err := t.getURL(controlPath)
		if err != nil {
			return err
		}

		ctrl := control{}
		if err := json.Unmarshal(body, &ctrl); err != nil {
			return errors.Wrap(err, "bench control parse error")
		}
		if ctrl.Exit {
			return nil
		}
		timing, flusht, sleeps, answer := t.run(&ctrl)
		t.logger.Info("run finished",
			zap.Int("concurrent", ctrl.Concurrent),
			zap.Int64("repeat", ctrl.Repeat),
			zap.Duration("timing", timing),
			zap.Duration("flush", flusht))
		if _, err := t.getURL(fmt.Sprintf(
			"%s?timing=%.9f&flush=%.9f&s=%.9f&a=%d",
			resultPath,
			timing.Seconds(),
			flusht.Seconds(),
			sleeps.Seconds(),
			answer)); err != nil {
			return err
		}
	}
}

func testBody(tracer minitrace.Tracer, control *control) (time.Duration, int64) {
	var sleepDebt time.Duration
	var answer int64
	var totalSleep time.Duration
	for i := int64(0); i < control.Repeat; i++ {
		ctx := minitrace.WithNewScopeStack(context.Background())
		scopes := make([]*minitrace.Scope, 0, control.Depth+1)
		scope, ctx := tracer.BuildSpan("span/test").StartActive(ctx, true)
		scopes = append(scopes, scope)
		for d := int64(0); d < control.Depth; d++ {
			scope, ctx = tracer.BuildSpan("span/nested").StartActive(ctx, true)
			scopes = append(scopes, scope)
		}

		answer = work(control.Work)
		span := scopes[len(scopes)-1].Span()
		for i := int64(0); i < control.NumLogs; i++ {
			span.LogKV("event", "testlog", "payload", logPayloadStr[0:control.BytesPerLog])
		}
		for s := len(scopes) - 1; s >= 0; s-- {
			scopes[s].Close()
		}

		sleepDebt += control.Sleep
		if sleepDebt <= control.SleepInterval {
			continue
		}
		begin := time.Now()
		time.Sleep(sleepDebt)
		elapsed := time.Since(begin)
		sleepDebt -= elapsed
		totalSleep += elapsed
	}
	return totalSleep, answer
}

func (t *testClient) run(control *control) (time.Duration, time.Duration, time.Duration, int64) {
	tracer := t.noop
	if control.Trace {
		tracer = t.tracer
	}
	conc := control.Concurrent
	if conc < 1 {
		conc = 1
	}
	runtime.GOMAXPROCS(conc)
	runtime.GC()
	runtime.Gosched()

	var (
		sleeps atomic.Duration
		answer atomic.Int64
	)

	beginTest := time.Now()
	start := &sync.WaitGroup{}
	finish := &sync.WaitGroup{}
	start.Add(conc)
	finish.Add(conc)
	for c := 0; c < conc; c++ {
		go func() {
			defer finish.Done()
			start.Done()
			start.Wait()
			s, a := testBody(tracer, control)
			sleeps.Add(s)
			answer.Add(a)
		}()
	}
	finish.Wait()
	endTime := time.Now()

	flushDur := time.Duration(0)
	if control.Trace {
		if err := minitrace.Flush(context.Background(), tracer); err != nil {
			t.logger.Warn("flush failed", zap.Error(err))
		}
		flushDur = time.Since(endTime)
	}
	return endTime.Sub(beginTest), flushDur, sleeps.Load(), answer.Load()
}

func newCommand() *cobra.Command {
	var (
		controller  string
		collector   string
		accessToken string
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Run span workloads on behalf of a benchmark controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			minitrace.SetGlobalEventHandler(minitrace.NewOnEventLogOneError(logger))

			client, err := collectorgrpc.NewClient(
				collectorgrpc.WithAddress(collector),
				collectorgrpc.WithInsecure(),
				collectorgrpc.WithAccessToken(accessToken),
			)
			if err != nil {
				return err
			}
			tracer := minitrace.NewTracer(
				minitrace.WithServiceName("benchmark"),
				minitrace.WithReporter(minitrace.NewBufferedReporter(client)),
			)
			defer tracer.Close(context.Background())

			tc := &testClient{
				baseURL: "http://" + controller,
				tracer:  tracer,
				noop:    minitrace.NewTracer(minitrace.WithSampler(minitrace.ConstSampler(false))),
				logger:  logger,
			}
			return tc.loop()
		},
	}
	cmd.Flags().StringVar(&controller, "controller", "localhost:8000", "host:port of the benchmark controller")
	cmd.Flags().StringVar(&collector, "collector", "localhost:8001", "host:port of the gRPC collector")
	cmd.Flags().StringVar(&accessToken, "access-token", "ignored", "access token sent with every report")
	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		panic(err)
	}
}
