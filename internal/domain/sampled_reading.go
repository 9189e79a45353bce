package domain

import (
	"sort"
	"time"
)

type ReadingContext string

const (
	ReadingContextInterruptionBegin ReadingContext = "Interruption.Begin"
	ReadingContextInterruptionEnd   ReadingContext = "Interruption.End"
	ReadingContextOther             ReadingContext = "Other"
	ReadingContextSampleClock       ReadingContext = "Sample.Clock"
	ReadingContextSamplePeriodic    ReadingContext = "Sample.Periodic"
	ReadingContextTransactionBegin  ReadingContext = "Transaction.Begin"
	ReadingContextTransactionEnd    ReadingContext = "Transaction.End"
	ReadingContextTrigger           ReadingContext = "Trigger"
)

type ValueFormat string

const (
	ValueFormatRaw        ValueFormat = "Raw"
	ValueFormatSignedData ValueFormat = "SignedData"
)

type Measurand string

const (
	MeasurandCurrentExport                Measurand = "Current.Export"
	MeasurandCurrentImport                Measurand = "Current.Import"
	MeasurandCurrentOffered               Measurand = "Current.Offered"
	MeasurandEnergyActiveExportRegister   Measurand = "Energy.Active.Export.Register"
	MeasurandEnergyActiveImportRegister   Measurand = "Energy.Active.Import.Register"
	MeasurandEnergyReactiveExportRegister Measurand = "Energy.Reactive.Export.Register"
	MeasurandEnergyReactiveImportRegister Measurand = "Energy.Reactive.Import.Register"
	MeasurandEnergyActiveExportInterval   Measurand = "Energy.Active.Export.Interval"
	MeasurandEnergyActiveImportInterval   Measurand = "Energy.Active.Import.Interval"
	MeasurandEnergyReactiveExportInterval Measurand = "Energy.Reactive.Export.Interval"
	MeasurandEnergyReactiveImportInterval Measurand = "Energy.Reactive.Import.Interval"
	MeasurandFrequency                    Measurand = "Frequency"
	MeasurandPowerActiveExport            Measurand = "Power.Active.Export"
	MeasurandPowerActiveImport            Measurand = "Power.Active.Import"
	MeasurandPowerFactor                  Measurand = "Power.Factor"
	MeasurandPowerOffered                 Measurand = "Power.Offered"
	MeasurandPowerReactiveExport          Measurand = "Power.Reactive.Export"
	MeasurandPowerReactiveImport          Measurand = "Power.Reactive.Import"
	MeasurandRPM                          Measurand = "RPM"
	MeasurandSoC                          Measurand = "SoC"
	MeasurandTemperature                  Measurand = "Temperature"
	MeasurandVoltage                      Measurand = "Voltage"
)

type Phase string

const (
	PhaseNone Phase = ""
	PhaseL1   Phase = "L1"
	PhaseL2   Phase = "L2"
	PhaseL3   Phase = "L3"
	PhaseN    Phase = "N"
	PhaseL1N  Phase = "L1-N"
	PhaseL2N  Phase = "L2-N"
	PhaseL3N  Phase = "L3-N"
	PhaseL1L2 Phase = "L1-L2"
	PhaseL2L3 Phase = "L2-L3"
	PhaseL3L1 Phase = "L3-L1"
)

type Location string

const (
	LocationBody   Location = "Body"
	LocationCable  Location = "Cable"
	LocationEV     Location = "EV"
	LocationInlet  Location = "Inlet"
	LocationOutlet Location = "Outlet"
)

type UnitOfMeasure string

const (
	UnitWh         UnitOfMeasure = "Wh"
	UnitKWh        UnitOfMeasure = "kWh"
	UnitVarh       UnitOfMeasure = "varh"
	UnitKVarh      UnitOfMeasure = "kvarh"
	UnitW          UnitOfMeasure = "W"
	UnitKW         UnitOfMeasure = "kW"
	UnitVA         UnitOfMeasure = "VA"
	UnitKVA        UnitOfMeasure = "kVA"
	UnitVar        UnitOfMeasure = "var"
	UnitKVar       UnitOfMeasure = "kvar"
	UnitA          UnitOfMeasure = "A"
	UnitV          UnitOfMeasure = "V"
	UnitCelsius    UnitOfMeasure = "Celsius"
	UnitFahrenheit UnitOfMeasure = "Fahrenheit"
	UnitK          UnitOfMeasure = "K"
	UnitPercent    UnitOfMeasure = "Percent"
)

// SampledReading is a single measurand value reported by a charge point.
// Value is kept as the decimal text sent on the wire.
type SampledReading struct {
	ID        uint           `json:"-" gorm:"primaryKey"`
	SessionID string         `json:"session_id,omitempty" gorm:"index"`
	Timestamp time.Time      `json:"timestamp"`
	Context   ReadingContext `json:"context"`
	Format    ValueFormat    `json:"format,omitempty"`
	Measurand Measurand      `json:"measurand"`
	Phase     Phase          `json:"phase,omitempty"`
	Location  Location       `json:"location"`
	Unit      UnitOfMeasure  `json:"unit"`
	Value     string         `json:"value"`
}

// WithDefaults fills in the OCPP 1.6 defaults for optional fields.
func (r SampledReading) WithDefaults() SampledReading {
	if r.Context == "" {
		r.Context = ReadingContextSamplePeriodic
	}
	if r.Format == "" {
		r.Format = ValueFormatRaw
	}
	if r.Measurand == "" {
		r.Measurand = MeasurandEnergyActiveImportRegister
	}
	if r.Location == "" {
		r.Location = LocationOutlet
	}
	if r.Unit == "" {
		r.Unit = UnitWh
	}
	return r
}

// CompareReadings orders readings by timestamp, location, measurand then phase.
func CompareReadings(a, b *SampledReading) int {
	switch {
	case a.Timestamp.Before(b.Timestamp):
		return -1
	case a.Timestamp.After(b.Timestamp):
		return 1
	}
	if c := compareStrings(string(a.Location), string(b.Location)); c != 0 {
		return c
	}
	if c := compareStrings(string(a.Measurand), string(b.Measurand)); c != 0 {
		return c
	}
	return compareStrings(string(a.Phase), string(b.Phase))
}

// SortReadings sorts readings in place with CompareReadings. The sort is
// stable so equal readings keep their arrival order.
func SortReadings(readings []SampledReading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return CompareReadings(&readings[i], &readings[j]) < 0
	})
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
