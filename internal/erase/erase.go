// Package erase wipes device partitions through a native provider.
package erase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/foundation/normalization"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/metrics"
)

// Type selects what gets erased.
type Type int

const (
	TypeVar Type = iota + 1
	TypeAll
	TypeMedia
	TypeDeveloper
	TypeWipe
)

func (t Type) String() string {
	switch t {
	case TypeVar:
		return "var"
	case TypeAll:
		return "all"
	case TypeMedia:
		return "media"
	case TypeDeveloper:
		return "developer"
	case TypeWipe:
		return "wipe"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t Type) Valid() bool { return t >= TypeVar && t <= TypeWipe }

var typeNames = normalization.New("erase type", map[string]Type{
	"var":        TypeVar,
	"erasevar":   TypeVar,
	"all":        TypeAll,
	"eraseall":   TypeAll,
	"media":      TypeMedia,
	"erasemedia": TypeMedia,
	"developer":  TypeDeveloper,
	"wipe":       TypeWipe,
	"securewipe": TypeWipe,
}, 0)

// ParseType maps a request name (var, EraseMedia, secure-wipe, ...) to a Type.
func ParseType(s string) (Type, error) {
	return typeNames.Parse(s)
}

// Provider performs the erase.
type Provider interface {
	ErasePartition(ctx context.Context, t Type) error
}

// ProviderOpener opens the provider once at service start.
type ProviderOpener func() (Provider, error)

// Service serializes erase requests against one provider. When the provider could not be
// opened every request fails fast with ProviderUnavailable.
type Service struct {
	mu       sync.Mutex
	provider Provider
	openErr  error
	recorder metrics.Recorder
	logger   *slog.Logger
}

type Option func(*Service)

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(open ProviderOpener, opts ...Option) *Service {
	s := &Service{recorder: metrics.NoopRecorder{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if open == nil {
		s.openErr = fmt.Errorf("no erase provider configured")
	} else {
		s.provider, s.openErr = open()
	}
	if s.openErr != nil {
		s.provider = nil
		s.logger.Error("Unable to open erase provider", logfields.Error(s.openErr))
	}
	return s
}

// Available reports whether a provider is open.
func (s *Service) Available() bool {
	return s.provider != nil
}

// Erase runs one erase of type t.
func (s *Service) Erase(ctx context.Context, t Type) error {
	if s.provider == nil {
		s.logger.Warn("Erase requested with no working provider", logfields.EraseType(t.String()))
		s.recorder.IncErase(t.String(), metrics.ResultFailed)
		return errors.ProviderUnavailable("erase").WithCause(s.openErr).Build()
	}
	if !t.Valid() {
		s.recorder.IncErase("invalid", metrics.ResultFailed)
		return errors.InvalidValue("erase", fmt.Sprintf("Invalid type %d", int(t))).Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Erasing partition", logfields.EraseType(t.String()))
	if err := s.provider.ErasePartition(ctx, t); err != nil {
		s.logger.Error("Erase provider failed", logfields.EraseType(t.String()), logfields.Error(err))
		s.recorder.IncErase(t.String(), metrics.ResultFailed)
		return errors.NewError(errors.CategoryApplyFailed, "Failed to execute erase API").
			WithCause(err).WithContext("type", t.String()).Build()
	}
	s.recorder.IncErase(t.String(), metrics.ResultSuccess)
	return nil
}

// EraseNamed parses name and erases.
func (s *Service) EraseNamed(ctx context.Context, name string) error {
	t, err := ParseType(name)
	if err != nil {
		if s.provider == nil {
			return s.Erase(ctx, 0)
		}
		s.recorder.IncErase("invalid", metrics.ResultFailed)
		return errors.InvalidValue("erase", fmt.Sprintf("Invalid type %s", name)).WithCause(err).Build()
	}
	return s.Erase(ctx, t)
}
