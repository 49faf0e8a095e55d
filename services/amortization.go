package services

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"loandesk/models"
)

// calculateAnnuityPayment рассчитывает размер аннуитетного платежа.
// monthlyRate в долях; при нулевой ставке долг делится поровну.
func calculateAnnuityPayment(principal, monthlyRate float64, months int) float64 {
	if monthlyRate == 0 {
		return principal / float64(months)
	}
	return principal * monthlyRate / (1 - math.Pow(1+monthlyRate, -float64(months)))
}

// round2 округляет до копеек, половина - от нуля
func round2(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// BuildSchedule строит график погашения по убывающему остатку.
//
// Проценты месяца начисляются на неокругленный остаток, каждое поле платежа
// округляется до 2 знаков. Последний платеж забирает разницу округления,
// так что сумма основного долга по графику в точности равна principal.
// Срок i-го платежа: start + (i+1) месяцев.
func BuildSchedule(start time.Time, principal decimal.Decimal, annualRatePct float64, months int, ids IDGenerator) ([]models.Installment, error) {
	if !principal.IsPositive() {
		return nil, &ValidationError{Message: "principal must be greater than 0"}
	}
	if annualRatePct < 0 || math.IsNaN(annualRatePct) || math.IsInf(annualRatePct, 0) {
		return nil, &ValidationError{Message: "interest rate must be a non-negative number"}
	}
	if months <= 0 {
		return nil, &ValidationError{Message: "term must be at least 1 month"}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}

	p, _ := principal.Float64()
	r := annualRatePct / 100 / 12
	pmt := calculateAnnuityPayment(p, r, months)

	out := make([]models.Installment, 0, months)
	bal := p
	allocated := decimal.Zero

	for i := 0; i < months; i++ {
		// Проценты за месяц и основной долг
		interest := bal * r
		principalDue := math.Min(pmt-interest, bal)
		bal = math.Max(0, bal-principalDue)

		principalRounded := round2(principalDue)
		if i == months-1 {
			principalRounded = principal.Sub(allocated)
		}
		allocated = allocated.Add(principalRounded)

		interestRounded := round2(interest)
		out = append(out, models.Installment{
			ID:           ids.NewID(),
			Seq:          i + 1,
			DueDate:      start.AddDate(0, i+1, 0),
			PrincipalDue: principalRounded,
			InterestDue:  interestRounded,
			TotalDue:     principalRounded.Add(interestRounded),
		})
	}

	return out, nil
}
