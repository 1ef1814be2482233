package config

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
		return err == nil && d >= 0
	})
	return v
}

// Validate checks struct tags and cross-field rules. The Telegram token is not
// required here: it may still arrive from the environment.
func Validate(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.StructCtx(ctx, cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+": failed '"+fe.Tag()+"'")
			}
			return errors.Newf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid config")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "scheduler.timezone: unknown zone %q", tz)
		}
	}
	return nil
}
