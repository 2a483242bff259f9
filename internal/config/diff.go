package config

import (
	"strings"

	logx "remindd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes credentials or addresses).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Window != newCfg.Window {
		changed = append(changed, "window")
		attrs = append(attrs,
			logx.String("window.min_delay", strings.TrimSpace(newCfg.Window.MinDelay)),
			logx.String("window.max_delay", strings.TrimSpace(newCfg.Window.MaxDelay)),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.max_retry_count", newCfg.Engine.MaxRetryCount),
			logx.String("engine.ack_window", strings.TrimSpace(newCfg.Engine.AckWindow)),
		)
	}

	if !boolPtrEq(oldCfg.Invoker.Enabled, newCfg.Invoker.Enabled) ||
		oldCfg.Invoker.Workers != newCfg.Invoker.Workers ||
		oldCfg.Invoker.QueueSize != newCfg.Invoker.QueueSize ||
		oldCfg.Invoker.ExecTimeout != newCfg.Invoker.ExecTimeout ||
		oldCfg.Invoker.SweepEvery != newCfg.Invoker.SweepEvery ||
		oldCfg.Invoker.SweepLimit != newCfg.Invoker.SweepLimit {
		changed = append(changed, "invoker")
		attrs = append(attrs,
			logx.Int("invoker.workers", newCfg.Invoker.Workers),
			logx.String("invoker.sweep_every", strings.TrimSpace(newCfg.Invoker.SweepEvery)),
		)
	}

	if oldCfg.Sender != newCfg.Sender {
		changed = append(changed, "sender")
		attrs = append(attrs,
			logx.Int("sender.rate_per_sec", newCfg.Sender.RatePerSec),
		)
	}

	// Storage driver swaps require a restart; still report the change.
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
		)
	}

	if !boolPtrEq(oldCfg.HTTP.Enabled, newCfg.HTTP.Enabled) ||
		oldCfg.HTTP.Addr != newCfg.HTTP.Addr ||
		oldCfg.HTTP.ReadTimeout != newCfg.HTTP.ReadTimeout ||
		oldCfg.HTTP.WriteTimeout != newCfg.HTTP.WriteTimeout {
		changed = append(changed, "http")
	}

	return changed, attrs
}

func boolPtrEq(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
