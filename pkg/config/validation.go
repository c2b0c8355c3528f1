package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their config keys rather than Go names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// bindaddr accepts "ip:port" with port 0 allowed, as net.Dialer does.
	_ = v.RegisterValidation("bindaddr", func(fl validator.FieldLevel) bool {
		host, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil {
			return false
		}
		if host != "" && net.ParseIP(host) == nil {
			return false
		}
		_, err = strconv.ParseUint(port, 10, 16)
		return err == nil
	})
	return v
}

// Validate checks struct tags and cross-field rules. Error messages name
// the failing key and rule, e.g. "connection.max_outstanding: failed min=1".
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, formatFieldError(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if cfg.Connection.RequestTimeout < cfg.Connection.TickInterval {
		return fmt.Errorf("connection.request_timeout (%s) must not be shorter than connection.tick_interval (%s)",
			cfg.Connection.RequestTimeout, cfg.Connection.TickInterval)
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("telemetry.profiling.endpoint is required when profiling is enabled")
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	// Namespace is "Config.connection.max_outstanding"; drop the root.
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s: failed %s (got %v)", ns, rule, fe.Value())
}
