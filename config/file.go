package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of Options. Pointer fields distinguish
// "absent" from zero values; unknown keys are ignored by the decoder,
// matching the overlay-only-recognized-keys contract.
type fileConfig struct {
	MinDisplayMS        *int     `yaml:"min_display_ms"`
	AutoDetect          any      `yaml:"auto_detect"`
	Strategies          []string `yaml:"strategies"`
	Telemetry           *bool    `yaml:"telemetry"`
	ModernSyntax        *bool    `yaml:"modern_syntax"`
	SilenceDeprecations *bool    `yaml:"silence_deprecations"`
	PreventCLS          *bool    `yaml:"prevent_cls"`
}

// Load reads an option bag from a YAML file. The result still goes through
// Validate/Normalize, so a file with a negative min_display_ms fails there,
// not here.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc.options(), nil
}

func (fc *fileConfig) options() *Options {
	opts := &Options{}
	if fc.MinDisplayMS != nil {
		opts.MinDisplayMS = *fc.MinDisplayMS
	}
	if fc.AutoDetect != nil {
		opts.AutoDetect = fc.AutoDetect
	}
	if fc.Strategies != nil {
		opts.Strategies = fc.Strategies
	}
	if fc.Telemetry != nil {
		opts.Telemetry = *fc.Telemetry
	}
	if fc.ModernSyntax != nil {
		opts.ModernSyntax = *fc.ModernSyntax
	}
	if fc.SilenceDeprecations != nil {
		opts.SilenceDeprecations = *fc.SilenceDeprecations
	}
	if fc.PreventCLS != nil {
		opts.PreventCLS = *fc.PreventCLS
	}
	return opts
}

// Watch re-loads the file on every change and emits the fresh option bag.
// The directory is watched rather than the file so atomic-rename saves
// (editors, configmap updates) keep working. Invalid intermediate states
// are logged and skipped. The channel closes when ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan *Options, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	out := make(chan *Options, 1)
	go func() {
		defer close(out)
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Name != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				opts, err := Load(abs)
				if err != nil {
					logger.Warn("config reload failed", "path", abs, "error", err)
					continue
				}
				select {
				case out <- opts:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
	return out, nil
}
