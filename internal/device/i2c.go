package device

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostState struct {
	once sync.Once
	err  error
}

// initHost loads the periph host drivers once per process.
func initHost() error {
	hostState.once.Do(func() {
		if _, err := host.Init(); err != nil {
			hostState.err = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostState.err
}

// openBus opens the first I2C bus in names that exists. An empty name
// selects the platform default bus.
func openBus(names []string) (i2c.BusCloser, string, error) {
	if err := initHost(); err != nil {
		return nil, "", errors.Join(ErrNotConnected, err)
	}
	if len(names) == 0 {
		names = []string{""}
	}
	var errs []error
	for _, name := range names {
		bus, err := i2creg.Open(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("bus %q: %w", name, err))
			continue
		}
		return bus, name, nil
	}
	return nil, "", errors.Join(append([]error{ErrNotConnected}, errs...)...)
}
