package datum

import (
	"github.com/seu-repo/ocpp-datum/internal/domain"
)

type propertyClass int

const (
	instantaneous propertyClass = iota
	accumulating
)

type propertyDef struct {
	name   string
	class  propertyClass
	phased bool
}

var measurandProperties = map[domain.Measurand]propertyDef{
	domain.MeasurandEnergyActiveImportRegister: {name: domain.PropWattHours, class: accumulating},
	domain.MeasurandEnergyActiveExportRegister: {name: domain.PropWattHoursReverse, class: accumulating},
	domain.MeasurandPowerActiveImport:          {name: domain.PropWatts, phased: true},
	domain.MeasurandPowerActiveExport:          {name: domain.PropWattsReverse, phased: true},
	domain.MeasurandPowerOffered:               {name: domain.PropPowerOffered},
	domain.MeasurandPowerFactor:                {name: domain.PropPowerFactor},
	domain.MeasurandCurrentImport:              {name: domain.PropCurrent, phased: true},
	domain.MeasurandCurrentOffered:             {name: domain.PropCurrentOffered},
	domain.MeasurandVoltage:                    {name: domain.PropVoltage, phased: true},
	domain.MeasurandFrequency:                  {name: domain.PropFrequency},
	domain.MeasurandTemperature:                {name: domain.PropTemperature},
	domain.MeasurandSoC:                        {name: domain.PropSoC},
	domain.MeasurandRPM:                        {name: domain.PropRPM},
}

var phaseSuffixes = map[domain.Phase]string{
	domain.PhaseL1:   "_a",
	domain.PhaseL2:   "_b",
	domain.PhaseL3:   "_c",
	domain.PhaseN:    "_n",
	domain.PhaseL1N:  "_a",
	domain.PhaseL2N:  "_b",
	domain.PhaseL3N:  "_c",
	domain.PhaseL1L2: "_ab",
	domain.PhaseL2L3: "_bc",
	domain.PhaseL3L1: "_ca",
}

// propertyFor maps a measurand and phase to a datum property. ok is false for
// combinations that have no property.
func propertyFor(m domain.Measurand, p domain.Phase) (name string, class propertyClass, ok bool) {
	def, found := measurandProperties[m]
	if !found {
		return "", instantaneous, false
	}
	if p == domain.PhaseNone {
		return def.name, def.class, true
	}
	if !def.phased {
		return "", instantaneous, false
	}
	suffix, found := phaseSuffixes[p]
	if !found {
		return "", instantaneous, false
	}
	return def.name + suffix, def.class, true
}
