// Package register registers all relevant sensor drivers
package register

import (
	// for sensor drivers.
	_ "github.com/sensord-io/sensord/sensor/analogreader"
	_ "github.com/sensord-io/sensord/sensor/bme280"
	_ "github.com/sensord-io/sensord/sensor/dht22"
	_ "github.com/sensord-io/sensord/sensor/fake"
)
