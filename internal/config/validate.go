package config

import (
	"fmt"
	"net/url"
	"strings"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy plus everything wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.Source.BaseURL = strings.TrimRight(strings.TrimSpace(out.Source.BaseURL), "/")
	out.Source.SectionCode = strings.ToUpper(strings.TrimSpace(out.Source.SectionCode))

	if out.App.Port <= 0 || out.App.Port > 65535 {
		res.addErr("app.port must be 1..65535")
	}

	if out.Source.BaseURL == "" {
		res.addErr("source.base_url is required")
	} else if u, err := url.Parse(out.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		res.addErr("source.base_url is not a valid URL: %q", out.Source.BaseURL)
	}
	if out.Source.SectionCode == "" {
		res.addErr("source.section_code is required")
	}
	if out.Source.RequestsPerSecond <= 0 {
		res.addErr("source.requests_per_second must be > 0")
	} else if out.Source.RequestsPerSecond > 5 {
		res.addWarn("source.requests_per_second is high (%.1f); the gazette API may throttle you.", out.Source.RequestsPerSecond)
	}
	if out.Source.Burst <= 0 {
		out.Source.Burst = 1
	}

	if out.Ingest.Workers <= 0 {
		res.addErr("ingest.workers must be > 0")
	} else if out.Ingest.Workers > 16 {
		res.addWarn("ingest.workers is very high (%d); fetches are rate-limited anyway.", out.Ingest.Workers)
	}
	if out.Ingest.LookbackDays < 0 {
		res.addErr("ingest.lookback_days must be >= 0")
	}
	if out.Ingest.MaxAttempts <= 0 {
		res.addErr("ingest.max_attempts must be > 0")
	} else if out.Ingest.MaxAttempts > 10 {
		res.addWarn("ingest.max_attempts is high (%d); retries already back off exponentially.", out.Ingest.MaxAttempts)
	}
	if out.Ingest.RetryBaseMs <= 0 {
		out.Ingest.RetryBaseMs = 250
	}
	if out.Ingest.DailyEnabled && out.Ingest.IntervalHours <= 0 {
		res.addErr("ingest.interval_hours must be > 0 when ingest.daily_enabled=true")
	}

	return out, res
}
