package domain

import (
	"sort"
	"time"
)

// Datum property names produced from charge point readings.
const (
	PropWattHours        = "wattHours"
	PropWattHoursReverse = "wattHoursReverse"
	PropWatts            = "watts"
	PropWattsReverse     = "wattsReverse"
	PropPowerOffered     = "powerOffered"
	PropPowerFactor      = "powerFactor"
	PropCurrent          = "current"
	PropCurrentOffered   = "currentOffered"
	PropVoltage          = "voltage"
	PropFrequency        = "frequency"
	PropTemperature      = "temp"
	PropSoC              = "soc"
	PropRPM              = "rpm"

	PropSessionID     = "sessionId"
	PropTransactionID = "transactionId"
	PropAuthToken     = "authToken"
	PropDuration      = "duration"
	PropEndDate       = "endDate"
	PropEndReason     = "endReason"
	PropEndAuthToken  = "endAuthToken"
	PropSessionEnergy = "sessionEnergy"
)

// Datum is a timestamped set of named properties from one source.
type Datum struct {
	ID            string             `json:"id,omitempty" gorm:"primaryKey"`
	OwnerID       string             `json:"owner_id,omitempty" gorm:"index"`
	Created       time.Time          `json:"created" gorm:"index"`
	SourceID      string             `json:"source_id" gorm:"index"`
	Instantaneous map[string]float64 `json:"i,omitempty" gorm:"serializer:json"`
	Accumulating  map[string]float64 `json:"a,omitempty" gorm:"serializer:json"`
	Status        map[string]any     `json:"s,omitempty" gorm:"serializer:json"`
}

// NewDatum returns an empty datum for a source at a point in time.
func NewDatum(created time.Time, sourceID string) *Datum {
	return &Datum{
		Created:       created,
		SourceID:      sourceID,
		Instantaneous: make(map[string]float64),
		Accumulating:  make(map[string]float64),
		Status:        make(map[string]any),
	}
}

// IsEmpty reports whether the datum carries no properties.
func (d *Datum) IsEmpty() bool {
	return len(d.Instantaneous) == 0 && len(d.Accumulating) == 0 && len(d.Status) == 0
}

// Property looks a property up across all classes.
func (d *Datum) Property(name string) (any, bool) {
	if v, ok := d.Instantaneous[name]; ok {
		return v, true
	}
	if v, ok := d.Accumulating[name]; ok {
		return v, true
	}
	v, ok := d.Status[name]
	return v, ok
}

// SampleNames returns the sorted names of the numeric properties.
func (d *Datum) SampleNames() []string {
	names := make([]string, 0, len(d.Instantaneous)+len(d.Accumulating))
	for k := range d.Instantaneous {
		names = append(names, k)
	}
	for k := range d.Accumulating {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
