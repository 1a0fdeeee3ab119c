package browser

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/labcore/internal/config"
)

// NewDriver returns the driver selected by cfg.Driver.
func NewDriver(cfg config.BrowserConfig, logger *zap.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverPlaywright, "":
		return NewPlaywrightDriver(cfg, logger), nil
	case config.DriverChromedp:
		return NewChromedpDriver(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
