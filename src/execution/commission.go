package execution

import "github.com/tradoverse/brokerage/src/eventmodels"

// commissionSchedule combines a percentage-of-notional component and a
// flat per-unit component, clamped to [Min, Max]. Max of zero means no
// ceiling.
type commissionSchedule struct {
	PercentOfNotional float64
	PerUnit           float64
	Min               float64
	Max               float64
}

var commissionSchedules = map[eventmodels.BrokerType]commissionSchedule{
	eventmodels.BrokerTypeTradier: {},
	eventmodels.BrokerTypeAlpaca:  {},
	eventmodels.BrokerTypeCoinbase: {
		PercentOfNotional: 0.001,
	},
	eventmodels.BrokerTypeIBKR: {
		PerUnit: 0.005,
		Min:     1.0,
		Max:     0,
	},
}

// Commission computes the fee for one fill. Used unchanged on both the
// dry-run and live paths so estimates and actuals are comparable.
func Commission(brokerType eventmodels.BrokerType, quantity, price float64) float64 {
	if quantity <= 0 {
		return 0
	}

	schedule, found := commissionSchedules[brokerType]
	if !found {
		return 0
	}

	fee := schedule.PercentOfNotional*quantity*price + schedule.PerUnit*quantity

	if fee < schedule.Min {
		fee = schedule.Min
	}

	if schedule.Max > 0 && fee > schedule.Max {
		fee = schedule.Max
	}

	return fee
}
