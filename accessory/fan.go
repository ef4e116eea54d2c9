package accessory

import (
	"github.com/brutella/hc/accessory"
	"github.com/milinda/geosmartbridge/service"
)

type Fan struct {
	*accessory.Accessory
	Fan *service.Fan
}

// NewFan returns a fan accessory that starts switched off with no speed.
func NewFan(info accessory.Info, speedCount int) *Fan {
	acc := Fan{}
	acc.Accessory = accessory.New(info, accessory.TypeFan)
	acc.Fan = service.NewFan(speedCount)

	acc.Fan.On.SetValue(false)
	acc.Fan.Speed.SetValue(0)

	acc.AddService(acc.Fan.Service)

	return &acc
}
