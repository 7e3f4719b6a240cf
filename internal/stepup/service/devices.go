package service

import (
	"context"
	"log/slog"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/store"
	"github.com/authsome/stepup/pkg/clockx"
)

// DeviceService exposes the user-facing side of device trust: listing and
// revoking bindings. Bindings are only ever created by a successful
// verification with remember-device requested.
type DeviceService struct {
	devices store.TrustedDevices
	clock   clockx.Clock
	logger  *slog.Logger
}

func NewDeviceService(devices store.TrustedDevices, clock clockx.Clock, logger *slog.Logger) *DeviceService {
	return &DeviceService{devices: devices, clock: clock, logger: logger}
}

// List returns the user's live trust bindings, newest first.
func (s *DeviceService) List(ctx context.Context, userID string) ([]domain.TrustedDevice, error) {
	devices, err := s.devices.ListTrustedDevices(ctx, userID, s.clock.Now().UTC())
	if err != nil {
		return nil, storeErr("list trusted devices", err)
	}
	return devices, nil
}

// Forget revokes a binding immediately. Forgetting an unknown device is a
// no-op.
func (s *DeviceService) Forget(ctx context.Context, userID, deviceID string) error {
	if err := s.devices.DeleteTrustedDevice(ctx, userID, deviceID); err != nil {
		return storeErr("forget trusted device", err)
	}
	s.logger.InfoContext(ctx, "trusted device forgotten", "user_id", userID, "device_id", deviceID)
	return nil
}
