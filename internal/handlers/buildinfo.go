package handlers

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/prefsd/internal/foundation/errors"
	"git.home.luguber.info/inful/prefsd/internal/logfields"
	"git.home.luguber.info/inful/prefsd/internal/value"
)

const KeyBuildInfo = "buildInfo"

// BackingReader loads the static build metadata.
type BackingReader interface {
	ReadBackingStore() (map[string]string, error)
}

// EnvFileReader parses a KEY=VALUE build-info file.
type EnvFileReader struct {
	Path string
}

func (r EnvFileReader) ReadBackingStore() (map[string]string, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, err
	}
	return godotenv.Unmarshal(string(data))
}

// BuildInfoHandler exposes build metadata under a read-only key.
type BuildInfoHandler struct {
	backing BackingReader
	logger  *slog.Logger
}

func NewBuildInfoHandler(backing BackingReader) *BuildInfoHandler {
	return &BuildInfoHandler{backing: backing, logger: slog.Default().With(logfields.Handler("buildinfo"))}
}

func (h *BuildInfoHandler) Name() string   { return "buildinfo" }
func (h *BuildInfoHandler) Keys() []string { return []string{KeyBuildInfo} }

func (h *BuildInfoHandler) Validate(key string, _ value.Value) error {
	return errors.InvalidValue(key, "read-only key").Build()
}

func (h *BuildInfoHandler) ValueChanged(context.Context, string, value.Value) error {
	return nil
}

func (h *BuildInfoHandler) ValuesForKey(key string) value.Value {
	if key != KeyBuildInfo || h.backing == nil {
		return value.Null()
	}
	info, err := h.backing.ReadBackingStore()
	if err != nil {
		h.logger.Warn("Build info unavailable", logfields.Error(err))
		return value.Null()
	}
	fields := make(map[string]value.Value, len(info))
	for k, v := range info {
		fields[k] = value.String(v)
	}
	return value.Map(fields)
}
