package tinyioc

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultSRPThreshold = 7

// Environment variables read by ConfigurationFromEnv.
const (
	EnvAllowOverriding           = "TINYIOC_ALLOW_OVERRIDING"
	EnvAutoRegistration          = "TINYIOC_AUTO_REGISTRATION"
	EnvSRPThreshold              = "TINYIOC_SRP_THRESHOLD"
	EnvSilenceDiagnosticWarnings = "TINYIOC_SILENCE_DIAGNOSTIC_WARNINGS"
	EnvDefaultScope              = "TINYIOC_DEFAULT_SCOPE"
)

type Configuration struct {
	Logger                    *zap.Logger
	DisposeCtx                context.Context
	DefaultScopedLifestyle    Lifestyle
	OnPlanBuilt               func(*InstanceProducer)
	SRPThreshold              int
	AllowOverriding           bool
	AutoRegistration          bool
	SilenceDiagnosticWarnings bool
}

type Option func(*Configuration)

var (
	// Allows to register a key more than once, last registration wins.
	WithOverriding Option = func(conf *Configuration) { conf.AllowOverriding = true }

	// Unregistered concrete struct types are not resolved.
	WithoutAutoRegistration Option = func(conf *Configuration) { conf.AutoRegistration = false }

	// Verify won't log diagnostic results.
	SilenceDiagnosticWarnings Option = func(conf *Configuration) { conf.SilenceDiagnosticWarnings = true }

	WithLogger = func(logger *zap.Logger) Option {
		return func(conf *Configuration) { conf.Logger = logger }
	}

	// Sets lifestyle used by Scoped and Registry.BeginScope.
	// Should be FlowScoped or ThreadScoped.
	WithDefaultScopedLifestyle = func(lifestyle Lifestyle) Option {
		return func(conf *Configuration) { conf.DefaultScopedLifestyle = lifestyle }
	}

	// Registry is closed once ctx is done.
	WithDisposeOnContextDone = func(ctx context.Context) Option {
		return func(conf *Configuration) { conf.DisposeCtx = ctx }
	}

	// Components with more than threshold dependencies are reported
	// as SingleResponsibilityViolation.
	WithSRPThreshold = func(threshold int) Option {
		return func(conf *Configuration) { conf.SRPThreshold = threshold }
	}

	// fn is called once for every producer when its creation plan is built.
	WithPlanBuiltHook = func(fn func(*InstanceProducer)) Option {
		return func(conf *Configuration) { conf.OnPlanBuilt = fn }
	}
)

func defaultConfiguration() Configuration {
	return Configuration{
		Logger:                 zap.NewNop(),
		DefaultScopedLifestyle: FlowScoped,
		SRPThreshold:           defaultSRPThreshold,
		AutoRegistration:       true,
	}
}

func (conf *Configuration) validate() error {
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}

	if l := conf.DefaultScopedLifestyle; l != FlowScoped && l != ThreadScoped {
		return fmt.Errorf("%w: default scoped lifestyle can't be %s", ErrNotScopedLifestyle, lifestyleName(l))
	}

	if conf.SRPThreshold < 1 {
		return fmt.Errorf("SRP threshold should be positive, got %d", conf.SRPThreshold)
	}

	return nil
}

// ConfigurationFromEnv reads .env files (if present) and returns Option
// applying settings found in environment variables.
// Variables that are not set leave defaults untouched.
func ConfigurationFromEnv(envFiles ...string) (Option, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}

	// .env files are optional
	_ = godotenv.Load(files...)

	var opts []Option

	if v, ok, err := envBool(EnvAllowOverriding); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, func(conf *Configuration) { conf.AllowOverriding = v })
	}

	if v, ok, err := envBool(EnvAutoRegistration); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, func(conf *Configuration) { conf.AutoRegistration = v })
	}

	if v, ok, err := envBool(EnvSilenceDiagnosticWarnings); err != nil {
		return nil, err
	} else if ok {
		opts = append(opts, func(conf *Configuration) { conf.SilenceDiagnosticWarnings = v })
	}

	if raw, ok := os.LookupEnv(EnvSRPThreshold); ok {
		threshold, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSRPThreshold, err)
		}

		opts = append(opts, WithSRPThreshold(threshold))
	}

	if raw, ok := os.LookupEnv(EnvDefaultScope); ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "flow", "context":
			opts = append(opts, WithDefaultScopedLifestyle(FlowScoped))
		case "thread", "goroutine":
			opts = append(opts, WithDefaultScopedLifestyle(ThreadScoped))
		default:
			return nil, fmt.Errorf("%s: unknown scope %q", EnvDefaultScope, raw)
		}
	}

	return func(conf *Configuration) {
		for _, opt := range opts {
			opt(conf)
		}
	}, nil
}

func envBool(key string) (value bool, ok bool, err error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false, nil
	}

	value, err = strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}

	return value, true, nil
}
