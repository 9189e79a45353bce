package datum

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// ConsolidateRequest is one batch of readings to turn into datum.
type ConsolidateRequest struct {
	ChargePoint *domain.ChargePoint
	Settings    *domain.ChargePointSettings
	// Session owns the readings; nil for session-less readings.
	Session  *domain.ChargeSession
	Readings []domain.SampledReading
	// History is every reading recorded for the session so far. It is only
	// used for session statistics, never emitted.
	History []domain.SampledReading
}

// Consolidator groups sampled readings into datum, one per distinct
// timestamp and location.
type Consolidator struct {
	log *zap.Logger
}

func NewConsolidator(log *zap.Logger) *Consolidator {
	return &Consolidator{log: log}
}

type groupKey struct {
	ts  time.Time
	loc domain.Location
}

// Consolidate returns the datum for req.Readings in ascending timestamp then
// location order. Readings without a datum property are dropped, and so are
// groups left with no samples.
func (c *Consolidator) Consolidate(req ConsolidateRequest) []*domain.Datum {
	if len(req.Readings) == 0 {
		return nil
	}

	readings := make([]domain.SampledReading, len(req.Readings))
	copy(readings, req.Readings)
	domain.SortReadings(readings)

	connectorID := 0
	if req.Session != nil {
		connectorID = req.Session.ConnectorID
	}

	var (
		result []*domain.Datum
		group  []domain.SampledReading
		key    groupKey
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		if d := c.buildDatum(req, connectorID, key, group); d != nil {
			result = append(result, d)
		}
		group = group[:0]
	}
	for i := range readings {
		r := readings[i]
		k := groupKey{ts: r.Timestamp, loc: r.Location}
		if len(group) > 0 && (!k.ts.Equal(key.ts) || k.loc != key.loc) {
			flush()
		}
		key = k
		group = append(group, r)
	}
	flush()

	return result
}

func (c *Consolidator) buildDatum(req ConsolidateRequest, connectorID int, key groupKey, group []domain.SampledReading) *domain.Datum {
	var template string
	if req.Settings != nil {
		template = req.Settings.SourceIDTemplate
	}
	d := domain.NewDatum(key.ts, SourceID(template, req.ChargePoint, connectorID, key.loc))
	if req.ChargePoint != nil {
		d.OwnerID = req.ChargePoint.OwnerID
	}

	var endReading *domain.SampledReading
	for i := range group {
		r := &group[i]
		name, class, ok := propertyFor(r.Measurand, r.Phase)
		if !ok {
			c.log.Debug("Dropping reading without datum property",
				zap.String("measurand", string(r.Measurand)),
				zap.String("phase", string(r.Phase)),
			)
			continue
		}
		v, err := normalize(r)
		if err != nil {
			c.log.Debug("Dropping unparseable reading",
				zap.String("measurand", string(r.Measurand)),
				zap.String("value", r.Value),
				zap.Error(err),
			)
			continue
		}
		if class == accumulating {
			d.Accumulating[name] = v
		} else {
			d.Instantaneous[name] = v
		}
		if r.Context == domain.ReadingContextTransactionEnd && r.Measurand == domain.MeasurandEnergyActiveImportRegister {
			endReading = r
		}
	}
	if len(d.Instantaneous) == 0 && len(d.Accumulating) == 0 {
		return nil
	}

	sess := req.Session
	if sess == nil {
		return d
	}
	d.Status[domain.PropSessionID] = sess.ID
	if sess.TransactionID > 0 {
		d.Status[domain.PropTransactionID] = sess.TransactionID
	}
	if sess.AuthID != "" {
		d.Status[domain.PropAuthToken] = sess.AuthID
	}
	if endReading != nil && sess.Ended != nil {
		d.Status[domain.PropDuration] = int64(sess.Ended.Sub(sess.Created) / time.Second)
		d.Status[domain.PropEndDate] = sess.Ended.UnixMilli()
		d.Status[domain.PropEndReason] = string(sess.EndReason)
		if sess.EndAuthID != "" {
			d.Status[domain.PropEndAuthToken] = sess.EndAuthID
		}
		if energy, ok := c.sessionEnergy(req.History, endReading); ok {
			d.Status[domain.PropSessionEnergy] = energy
		}
	}
	return d
}

// sessionEnergy is the register delta between the session's begin reading and
// its end reading, when both are in the same unit.
func (c *Consolidator) sessionEnergy(history []domain.SampledReading, end *domain.SampledReading) (float64, bool) {
	for i := range history {
		h := &history[i]
		if h.Context != domain.ReadingContextTransactionBegin ||
			h.Measurand != domain.MeasurandEnergyActiveImportRegister ||
			h.Location != end.Location || h.Unit != end.Unit {
			continue
		}
		v, err := difference(h.Value, end.Value)
		if err != nil {
			c.log.Debug("Unable to compute session energy", zap.Error(err))
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// SourceID expands a source ID template. Supported placeholders are
// {chargePointId}, {identifier}, {ownerId}, {connectorId} and {location}.
func SourceID(template string, cp *domain.ChargePoint, connectorID int, loc domain.Location) string {
	if template == "" {
		template = domain.DefaultSourceIDTemplate
	}
	var cpID, identifier, ownerID string
	if cp != nil {
		cpID, identifier, ownerID = cp.ID, cp.Identifier, cp.OwnerID
	}
	return strings.NewReplacer(
		"{chargePointId}", cpID,
		"{identifier}", identifier,
		"{ownerId}", ownerID,
		"{connectorId}", strconv.Itoa(connectorID),
		"{location}", string(loc),
	).Replace(template)
}
