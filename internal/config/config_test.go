package config

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/lightstep/minitrace-go"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

var _ = Describe("Config", func() {
	var cfg Config

	BeforeEach(func() {
		cfg = Default()
	})

	Describe("Parse", func() {
		It("reads every field", func() {
			err := Parse([]byte(`
service_name: hello
tags:
  env: test
sampler:
  type: probabilistic
  rate: 0.25
transport: http
url: http://collector:8080
access_token: secret
json: true
report_interval: 5s
max_buffered_spans: 10
metrics_address: http://metrics:9876
`), &cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ServiceName).To(Equal("hello"))
			Expect(cfg.Tags).To(HaveKeyWithValue("env", "test"))
			Expect(cfg.Sampler).To(Equal(Sampler{Type: SamplerProbabilistic, Rate: 0.25}))
			Expect(cfg.Transport).To(Equal(TransportHTTP))
			Expect(cfg.URL).To(Equal("http://collector:8080"))
			Expect(cfg.AccessToken).To(Equal("secret"))
			Expect(cfg.JSON).To(BeTrue())
			Expect(cfg.ReportInterval).To(Equal(5 * time.Second))
			Expect(cfg.MaxBufferedSpans).To(Equal(10))
			Expect(cfg.MetricsAddress).To(Equal("http://metrics:9876"))
			Expect(cfg.Validate()).To(Succeed())
		})

		It("keeps defaults for missing fields", func() {
			Expect(Parse([]byte("service_name: hello\n"), &cfg)).To(Succeed())
			Expect(cfg.Transport).To(Equal(TransportLog))
			Expect(cfg.ReportInterval).To(Equal(minitrace.DefaultReportInterval))
		})

		It("accepts an empty document", func() {
			Expect(Parse(nil, &cfg)).To(Succeed())
			Expect(cfg).To(Equal(Default()))
		})

		It("rejects unknown keys", func() {
			Expect(Parse([]byte("servce_name: typo\n"), &cfg)).NotTo(Succeed())
		})
	})

	Describe("environment overrides", func() {
		It("replaces file values", func() {
			cfg.ServiceName = "from-file"
			err := cfg.applyEnv(envOf(map[string]string{
				"MINITRACE_SERVICE_NAME":       "from-env",
				"MINITRACE_SAMPLER":            "probabilistic",
				"MINITRACE_SAMPLER_RATE":       "0.5",
				"MINITRACE_TRANSPORT":          "grpc",
				"MINITRACE_ADDRESS":            "collector:443",
				"MINITRACE_INSECURE":           "true",
				"MINITRACE_REPORT_INTERVAL":    "250ms",
				"MINITRACE_MAX_BUFFERED_SPANS": "42",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.ServiceName).To(Equal("from-env"))
			Expect(cfg.Sampler).To(Equal(Sampler{Type: SamplerProbabilistic, Rate: 0.5}))
			Expect(cfg.Transport).To(Equal(TransportGRPC))
			Expect(cfg.Address).To(Equal("collector:443"))
			Expect(cfg.Insecure).To(BeTrue())
			Expect(cfg.ReportInterval).To(Equal(250 * time.Millisecond))
			Expect(cfg.MaxBufferedSpans).To(Equal(42))
		})

		It("reports every malformed value", func() {
			err := cfg.applyEnv(envOf(map[string]string{
				"MINITRACE_INSECURE":        "maybe",
				"MINITRACE_REPORT_INTERVAL": "soon",
			}))
			Expect(err).To(MatchError(ContainSubstring("MINITRACE_INSECURE")))
			Expect(err).To(MatchError(ContainSubstring("MINITRACE_REPORT_INTERVAL")))
		})
	})

	Describe("Validate", func() {
		It("accepts the defaults", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("rejects unknown transports and samplers", func() {
			cfg.Transport = "carrier-pigeon"
			cfg.Sampler.Type = "sometimes"
			err := cfg.Validate()
			Expect(err).To(MatchError(ContainSubstring("carrier-pigeon")))
			Expect(err).To(MatchError(ContainSubstring("sometimes")))
		})

		It("rejects rates outside [0, 1]", func() {
			cfg.Sampler.Rate = 1.5
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("rejects an empty buffer", func() {
			cfg.MaxBufferedSpans = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})

	Describe("Load", func() {
		It("reads the file and validates it", func() {
			dir, err := ioutil.TempDir("", "minitrace-config")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "minitrace.yaml")
			Expect(ioutil.WriteFile(path, []byte("transport: none\nservice_name: loaded\n"), 0600)).To(Succeed())

			loaded, err := Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Transport).To(Equal(TransportNone))
		})

		It("fails on a missing file", func() {
			_, err := Load("/does/not/exist.yaml")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Reporter", func() {
		It("discards spans for transport none", func() {
			cfg.Transport = TransportNone
			reporter, err := cfg.Reporter(zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			Expect(reporter).To(Equal(minitrace.NoopReporter{}))
		})

		It("buffers spans for the http transport", func() {
			cfg.Transport = TransportHTTP
			reporter, err := cfg.Reporter(zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			buffered, ok := reporter.(*minitrace.BufferedReporter)
			Expect(ok).To(BeTrue())
			Expect(buffered.Close(context.Background())).To(Succeed())
		})

		It("buffers spans for the grpc transport", func() {
			cfg.Transport = TransportGRPC
			cfg.Insecure = true
			reporter, err := cfg.Reporter(zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			Expect(reporter).To(BeAssignableToTypeOf(&minitrace.BufferedReporter{}))
			Expect(reporter.(*minitrace.BufferedReporter).Close(context.Background())).To(Succeed())
		})
	})

	Describe("NewTracer", func() {
		AfterEach(func() {
			minitrace.SetGlobalEventHandler(nil)
		})

		It("applies service name, tags and sampler", func() {
			cfg.Transport = TransportNone
			cfg.ServiceName = "configured"
			cfg.Tags = map[string]string{"env": "test"}
			cfg.Sampler = Sampler{Type: SamplerConst, Rate: 0}

			tracer, err := cfg.NewTracer(context.Background(), zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			opts := tracer.Options()
			Expect(opts.ServiceName).To(Equal("configured"))
			Expect(opts.Tags).To(HaveKeyWithValue("env", "test"))
			Expect(opts.Sampler.ShouldSample(minitrace.TraceID{Low: 1}, "op")).To(BeFalse())
			Expect(tracer.Close(context.Background())).To(Succeed())
		})
	})
})
