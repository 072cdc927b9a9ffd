package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/logger"
	"github.com/oshokin/ota-installer/internal/payload"
)

// Options controls the inspected package and settings.
type Options struct {
	// ConfigPath is the optional path to settings YAML file. A missing file means defaults.
	ConfigPath string
	// PackagePath is the update package to inspect.
	PackagePath string
	// Output receives the report; defaults to stdout.
	Output io.Writer
}

// Report describes the payload of a package.
type Report struct {
	Package    string   `yaml:"package"`
	Entry      string   `yaml:"entry"`
	Offset     uint64   `yaml:"offset"`
	Size       uint64   `yaml:"size"`
	Stored     bool     `yaml:"stored"`
	Properties []string `yaml:"properties"`
}

var errPackageRequired = errors.New("package path must be provided")

// Run prints the payload report of the package as YAML.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "ota-inspect")

	report, err := Inspect(ctx, opts)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	encoder := yaml.NewEncoder(out)
	defer func() {
		_ = encoder.Close()
	}()

	if err = encoder.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

// Inspect locates the payload and reads its properties.
func Inspect(ctx context.Context, opts *Options) (*Report, error) {
	if opts.PackagePath == "" {
		return nil, errPackageRequired
	}

	cfg, err := config.Load(opts.ConfigPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		logger.Debug(ctx, "Settings not found, using defaults")

		cfg = config.Default()
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	location, err := payload.Locate(opts.PackagePath, cfg.PayloadEntry)
	if err != nil {
		return nil, err
	}

	return &Report{
		Package:    opts.PackagePath,
		Entry:      cfg.PayloadEntry,
		Offset:     location.Offset,
		Size:       location.Size,
		Stored:     payload.Stored(location),
		Properties: payload.ReadProperties(ctx, opts.PackagePath, cfg.PropertiesEntry),
	}, nil
}
