package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keithlinneman/storyboard/internal/log"
)

// EnvPrefix is prepended to flag names when reading them from the environment.
const EnvPrefix = "STORYBOARD_"

type App struct {
	LogJSON           bool    `flag:"log-json"`
	LogLevel          string  `flag:"log-level"`
	HTTPPort          int     `flag:"http-port" validate:"min=1,max=65535"`
	AdminPort         int     `flag:"admin-port" validate:"min=1,max=65535,nefield=HTTPPort"`
	EnablePprof       bool    `flag:"enable-pprof"`
	EnablePyroscope   bool    `flag:"enable-pyroscope"`
	EnableTracing     bool    `flag:"enable-tracing"`
	PyroServer        string  `flag:"pyro-server" validate:"required_if=EnablePyroscope true"`
	PyroTenantID      string  `flag:"pyro-tenant" validate:"required_if=EnablePyroscope true"`
	OTLPEndpoint      string  `flag:"otlp-endpoint" validate:"required_if=EnableTracing true"`
	TraceSample       float64 `flag:"trace-sample" validate:"min=0,max=1"`
	StacktraceLevel   string  `flag:"stacktrace-level"`
	IncludeErrorLinks bool    `flag:"include-error-links"`
	MaxErrorLinks     int     `flag:"max-error-links"`

	ConfigFile     string  `flag:"config-file" validate:"required"`
	EscapeMarkup   bool    `flag:"escape-markup"`
	StrictToken    bool    `flag:"strict-token"`
	MaxBodyBytes   int64   `flag:"max-body-bytes" validate:"min=1"`
	RateLimitRPS   float64 `flag:"rate-limit-rps" validate:"min=0"`
	RateLimitBurst int     `flag:"rate-limit-burst" validate:"min=0"`
	TrustedHops    int     `flag:"trusted-hops" validate:"min=0,max=8"`
	DrainSeconds   int     `flag:"drain-seconds" validate:"min=0,max=300"`

	EnableMirror   bool   `flag:"enable-mirror"`
	MirrorS3Bucket string `flag:"mirror-s3-bucket" validate:"required_if=EnableMirror true"`
	MirrorS3Prefix string `flag:"mirror-s3-prefix"`
	MirrorKMSKey   string `flag:"mirror-kms-key"`
	MirrorSSMParam string `flag:"mirror-ssm-param" validate:"omitempty,startswith=/"`
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.ConfigFile, "config-file", "/etc/storyboard/config.yaml", "storyboard YAML config (token, storagePath, templatePath)")
	fs.BoolVar(&c.EscapeMarkup, "escape-markup", false, "HTML-escape stored content before rendering the template")
	fs.BoolVar(&c.StrictToken, "strict-token", false, "Compare tokens as exact strings instead of loose equality")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 1<<20, "max accepted write body in bytes")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 10, "per-client requests per second (0 disables)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 20, "per-client burst size")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted proxies in front of the server (0..8)")

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 15, "seconds to fail readiness before shutting listeners down (0..300)")
	fs.BoolVar(&c.EnableMirror, "enable-mirror", false, "Copy the storage file to S3 after each write")
	fs.StringVar(&c.MirrorS3Bucket, "mirror-s3-bucket", "", "s3 bucket to mirror the storage file to")
	fs.StringVar(&c.MirrorS3Prefix, "mirror-s3-prefix", "storyboard", "s3 key prefix for the mirrored storage file")
	fs.StringVar(&c.MirrorKMSKey, "mirror-kms-key", "", "KMS key id or alias signing each mirrored payload digest (empty disables)")
	fs.StringVar(&c.MirrorSSMParam, "mirror-ssm-param", "", "SSM parameter receiving the digest of the last mirrored payload (empty disables)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + envName(f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

func envName(flagName string) string {
	return strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their env name so messages match what operators set
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("flag"); name != "" {
			return envName(name)
		}
		return f.Name
	})
	return v
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			errs = append(errs, fieldError(fe))
		}
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.EnablePyroscope && c.PyroServer != "" {
		if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing && c.OTLPEndpoint != "" {
		if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when RATE_LIMIT_RPS > 0 (got %d)", c.RateLimitBurst))
	}

	if c.EnableMirror && strings.Contains(c.MirrorS3Bucket, "/") {
		errs = append(errs, fmt.Errorf("MIRROR_S3_BUCKET must be a bucket name, not a path (got %q)", c.MirrorS3Bucket))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "required_if":
		return fmt.Errorf("%s required when %s", fe.Field(), requiredIfCondition(fe.Param()))
	case "nefield":
		return fmt.Errorf("%s and %s must differ (both %v)", fe.Field(), envName(flagOf(fe.Param())), fe.Value())
	default:
		return fmt.Errorf("invalid %s %v (must satisfy %s=%s)", fe.Field(), fe.Value(), fe.Tag(), fe.Param())
	}
}

// requiredIfCondition renders "EnableMirror true" as ENABLE_MIRROR=true.
func requiredIfCondition(param string) string {
	field, value, _ := strings.Cut(param, " ")
	return envName(flagOf(field)) + "=" + value
}

// flagOf maps an App field name to its flag name.
func flagOf(field string) string {
	if f, ok := reflect.TypeOf(App{}).FieldByName(field); ok {
		if name := f.Tag.Get("flag"); name != "" {
			return name
		}
	}
	return field
}
