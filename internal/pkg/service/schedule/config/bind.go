package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/umisama/go-regexpcache"

	"github.com/keboola/schedule-coordinator/internal/pkg/env"
	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

const (
	configKeyTag   = "configKey"
	configUsageTag = "configUsage"
)

type field struct {
	key   string
	flag  string
	usage string
	value reflect.Value
}

// GenerateFlags generates a flag for each field tagged by the "configKey" tag.
// Defaults are taken from the provided configuration.
func GenerateFlags(fs *pflag.FlagSet, cfg Config) error {
	for _, f := range fields(reflect.ValueOf(cfg), "") {
		switch v := f.value.Interface().(type) {
		case time.Duration:
			fs.Duration(f.flag, v, f.usage)
		case bool:
			fs.Bool(f.flag, v, f.usage)
		case int:
			fs.Int(f.flag, v, f.usage)
		case int64:
			fs.Int64(f.flag, v, f.usage)
		case float64:
			fs.Float64(f.flag, v, f.usage)
		case []string:
			fs.StringSlice(f.flag, v, f.usage)
		default:
			if f.value.Kind() != reflect.String {
				return errors.Errorf(`unexpected type "%T" of the config key "%s"`, v, f.key)
			}
			fs.String(f.flag, f.value.String(), f.usage)
		}
	}
	return nil
}

// Bind maps flags and ENVs to the configuration.
// Priority: a flag set on the command line, ENV, the flag default value.
// Flags must be generated by GenerateFlags and parsed.
func Bind(fs *pflag.FlagSet, envs env.Provider) (Config, error) {
	v := viper.New()
	naming := env.NewNamingConvention(EnvPrefix)

	errs := errors.NewMultiError()
	for _, f := range fields(reflect.ValueOf(New()), "") {
		flag := fs.Lookup(f.flag)
		if flag == nil {
			errs.Append(errors.Errorf(`flag "%s" not found`, f.flag))
			continue
		}

		if err := v.BindPFlag(f.key, flag); err != nil {
			errs.Append(err)
			continue
		}

		// viper.SetDefault cannot be used, the flag binding already provides the default value
		if !flag.Changed {
			if value, found := envs.Lookup(naming.FlagToEnv(f.flag)); found {
				v.Set(f.key, value)
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return Config{}, err
	}

	cfg := New()
	err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.TagName = configKeyTag
	})
	if err != nil {
		return Config{}, errors.PrefixError(err, "invalid configuration")
	}

	return cfg, nil
}

func fields(value reflect.Value, prefix string) (out []field) {
	for i := 0; i < value.NumField(); i++ {
		structField := value.Type().Field(i)
		name, found := structField.Tag.Lookup(configKeyTag)
		if !found || name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fieldValue := value.Field(i)
		if fieldValue.Kind() == reflect.Struct {
			out = append(out, fields(fieldValue, key)...)
			continue
		}

		out = append(out, field{key: key, flag: keyToFlagName(key), usage: structField.Tag.Get(configUsageTag), value: fieldValue})
	}
	return out
}

// keyToFlagName converts for example "etcd.sessionTTL" to "etcd-session-ttl".
func keyToFlagName(key string) string {
	str := regexpcache.MustCompile(`[A-Z]+`).ReplaceAllString(key, "-$0")
	str = regexpcache.MustCompile(`[-.\s]+`).ReplaceAllString(str, "-")
	str = strings.Trim(str, "-")
	return strings.ToLower(str)
}
