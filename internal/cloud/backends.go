package cloud

import (
	"fmt"
	"log/slog"

	"github.com/emusync/emusync/internal/config"
	"github.com/emusync/emusync/internal/errors"
)

// NewBackend builds the backend matching the configuration. The
// returned Backend is ready to use but not logged in; restore a
// persisted token with SetToken on the concrete client if one exists.
func NewBackend(cfg config.CloudConfig, logger *slog.Logger) (Backend, error) {
	device := Device{ID: cfg.DeviceID, Name: cfg.DeviceName}

	switch cfg.Mode {
	case config.ModeOfficial:
		return newClient(
			"official",
			cfg.BaseURL,
			cfg.Timeout,
			device,
			loginConfig{credential: cfg.APIKey, field: "api_key"},
			logger,
		), nil

	case config.ModeSelfHost:
		return newClient(
			"selfhost",
			cfg.BaseURL,
			cfg.Timeout,
			device,
			loginConfig{credential: cfg.AccessKey, field: "access_key"},
			logger,
		), nil

	case config.ModeOff:
		return Disabled{}, nil

	default:
		return nil, fmt.Errorf("unknown cloud mode %q: %w", cfg.Mode, errors.ErrInvalidConfig)
	}
}
