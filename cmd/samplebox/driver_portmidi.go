//go:build portmidi

package main

import (
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/portmididrv"
)

func openDriver() (drivers.Driver, error) {
	drv, err := portmididrv.New()
	if err != nil {
		return nil, err
	}
	return drv, nil
}
