package browser

import (
	"fmt"

	"reportsync/internal/config"
	"reportsync/internal/logging"
)

// NewDriver picks the engine named in cfg.Driver.
func NewDriver(cfg config.BrowserConfig, downloadDir string, logger logging.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverPlaywright, "":
		return NewPlaywrightDriver(cfg, logger), nil
	case config.DriverRod:
		return NewRodDriver(cfg, downloadDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}
