package cloud

import (
	"context"

	"github.com/emusync/emusync/internal/errors"
)

// Disabled is the backend for off mode. Every operation fails fast
// with ErrDisabled and performs no network or filesystem I/O, so local
// history keeps working while cloud sync is off.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Upload(context.Context, UploadInput) (Version, error) {
	return Version{}, errors.ErrDisabled
}

func (Disabled) Download(context.Context, string, string, string, ProgressFunc) (Version, error) {
	return Version{}, errors.ErrDisabled
}

func (Disabled) ListVersions(context.Context, string) ([]Version, error) {
	return nil, errors.ErrDisabled
}

func (Disabled) ListGames(context.Context) ([]string, error) {
	return nil, errors.ErrDisabled
}

func (Disabled) ListDevices(context.Context) ([]Device, error) {
	return nil, errors.ErrDisabled
}

func (Disabled) RemoveDevice(context.Context, string) error {
	return errors.ErrDisabled
}

func (Disabled) Login(context.Context) (LoginResult, error) {
	return LoginResult{}, errors.ErrDisabled
}

func (Disabled) Logout(context.Context) error {
	return errors.ErrDisabled
}

func (Disabled) ValidateSettings(context.Context) (ValidationOutcome, error) {
	return ValidationOutcome{}, errors.ErrDisabled
}
