package config

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// EnvMapping binds an environment variable to a koanf path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
	Sensitive  bool
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings walks the env tags of Config once and caches the result.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = collectMappings(reflect.TypeOf(Config{}), "")
		sort.Slice(cachedMappings, func(i, j int) bool {
			return cachedMappings[i].EnvVar < cachedMappings[j].EnvVar
		})
	})
	return cachedMappings
}

func collectMappings(t reflect.Type, prefix string) []EnvMapping {
	var out []EnvMapping
	sensitiveType := reflect.TypeOf(SensitiveString(""))
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("koanf")
		if !field.IsExported() || key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if envVar := field.Tag.Get("env"); envVar != "" && envVar != "-" {
			out = append(out, EnvMapping{
				EnvVar:     envVar,
				ConfigPath: path,
				Sensitive:  field.Type == sensitiveType,
			})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			out = append(out, collectMappings(field.Type, path)...)
		}
	}
	return out
}

// EnvToConfigPath indexes GenerateEnvMappings by variable name.
func EnvToConfigPath() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		result[m.EnvVar] = m.ConfigPath
	}
	return result
}

// IsSensitiveConfigPath reports whether the field at path holds a secret.
func IsSensitiveConfigPath(path string) bool {
	t := reflect.TypeOf(Config{})
	parts := strings.Split(path, ".")
	for idx, part := range parts {
		found := false
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.Tag.Get("koanf") != part {
				continue
			}
			if idx == len(parts)-1 {
				return field.Type == reflect.TypeOf(SensitiveString(""))
			}
			if field.Type.Kind() != reflect.Struct {
				return false
			}
			t = field.Type
			found = true
			break
		}
		if !found {
			return false
		}
	}
	return false
}
