package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Service loads and validates configuration.
type Service interface {
	Load(ctx context.Context, sources ...Source) (*Config, error)
	Validate(cfg *Config) error
}

type loader struct {
	validator *validator.Validate
	environ   func() []string
}

type LoaderOption func(*loader)

// WithEnviron replaces os.Environ as the environment snapshot.
func WithEnviron(fn func() []string) LoaderOption {
	return func(l *loader) {
		l.environ = fn
	}
}

func NewService(opts ...LoaderOption) Service {
	l := &loader{
		validator: validator.New(),
		environ:   os.Environ,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load applies defaults, YAML, environment and CLI sources in that order.
func (l *loader) Load(_ context.Context, sources ...Source) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	ordered := make([]Source, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			ordered = append(ordered, src)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Type().precedence() < ordered[j].Type().precedence()
	})
	envLoaded := false
	for _, src := range ordered {
		if !envLoaded && src.Type().precedence() > SourceEnv.precedence() {
			if err := l.loadEnvironment(k); err != nil {
				return nil, err
			}
			envLoaded = true
		}
		if err := l.loadSource(k, src); err != nil {
			return nil, err
		}
	}
	if !envLoaded {
		if err := l.loadEnvironment(k); err != nil {
			return nil, err
		}
	}
	return l.unmarshalAndValidate(k)
}

func (l *loader) loadEnvironment(k *koanf.Koanf) error {
	paths := EnvToConfigPath()
	provider := env.Provider(".", env.Opt{
		EnvironFunc: l.environ,
		TransformFunc: func(key, value string) (string, any) {
			path, ok := paths[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func (l *loader) loadSource(k *koanf.Koanf, src Source) error {
	data, err := src.Load()
	if err != nil {
		return fmt.Errorf("failed to load from source %s: %w", src.Type(), err)
	}
	for key, value := range flatten("", data) {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set key %s from source %s: %w", key, src.Type(), err)
		}
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flatten(key, nested) {
				out[fk] = fv
			}
			continue
		}
		out[key] = v
	}
	return out
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}

func (l *loader) unmarshalAndValidate(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustom(cfg)
}
