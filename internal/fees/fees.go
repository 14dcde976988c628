// Package fees computes platform and service fees for inbound charges and
// outbound withdrawals. Everything here is pure.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrFeeExceedsAmount is returned when fees would consume the whole amount.
var ErrFeeExceedsAmount = errors.New("fees: amount does not cover the minimum fees")

// Rates is one direction's fee configuration. Percentages are fractions (0.05 = 5%).
type Rates struct {
	PlatformPct decimal.Decimal
	ProfitPct   decimal.Decimal
	MinFixed    decimal.Decimal
}

// Total returns the combined percentage.
func (r Rates) Total() decimal.Decimal {
	return r.PlatformPct.Add(r.ProfitPct)
}

// Engine holds the inbound and outbound rate pairs.
type Engine struct {
	In  Rates
	Out Rates
}

// New builds an Engine.
func New(in, out Rates) Engine {
	return Engine{In: in, Out: out}
}

// OutboundFee returns max(gross × (platform + profit), minFixed) rounded to cents.
func (e Engine) OutboundFee(gross decimal.Decimal) decimal.Decimal {
	fee := gross.Mul(e.Out.Total())
	if fee.LessThan(e.Out.MinFixed) {
		fee = e.Out.MinFixed
	}
	return fee.Round(2)
}

// Quote is the fee breakdown of an outbound request.
type Quote struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// QuoteWithdrawal computes fee and net payable for gross, rejecting requests
// whose net would not be positive.
func (e Engine) QuoteWithdrawal(gross decimal.Decimal) (Quote, error) {
	gross = gross.Round(2)
	fee := e.OutboundFee(gross)
	net := gross.Sub(fee)
	if !net.IsPositive() {
		return Quote{}, ErrFeeExceedsAmount
	}
	return Quote{Gross: gross, Fee: fee, Net: net}, nil
}

// ServiceFee is the platform's profit on an inbound sale: gross × profit_in.
// It is charged on top of whatever the processor already withheld.
func (e Engine) ServiceFee(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(e.In.ProfitPct).Round(2)
}

// Settlement is the ledger effect of a confirmed inbound payment.
type Settlement struct {
	Gross      decimal.Decimal
	Net        decimal.Decimal // as reported by the processor
	ServiceFee decimal.Decimal
	Credited   decimal.Decimal // Net − ServiceFee
}

// Settle converts processor-reported cents into the amounts written to the ledger.
func (e Engine) Settle(grossCents, netCents int64) Settlement {
	gross := decimal.New(grossCents, -2)
	net := decimal.New(netCents, -2)
	fee := e.ServiceFee(gross)
	return Settlement{
		Gross:      gross,
		Net:        net,
		ServiceFee: fee,
		Credited:   net.Sub(fee).Round(2),
	}
}
