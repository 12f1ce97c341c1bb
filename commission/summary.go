package commission

import "github.com/shopspring/decimal"

// Summary aggregates a result set for dashboard views.
type Summary struct {
	TotalInsurer  decimal.Decimal
	TotalAgent    decimal.Decimal
	TotalMisp     decimal.Decimal
	TotalEmployee decimal.Decimal
	TotalBroker   decimal.Decimal
	TotalPolicies int

	Calculated  int
	NoGridMatch int
	Degraded    int
}

// Summarize sums insurer, source and broker commission across results.
func Summarize(results []Result) Summary {
	s := Summary{
		TotalInsurer:  decimal.Zero,
		TotalAgent:    decimal.Zero,
		TotalMisp:     decimal.Zero,
		TotalEmployee: decimal.Zero,
		TotalBroker:   decimal.Zero,
	}
	for _, r := range results {
		s.TotalInsurer = s.TotalInsurer.Add(r.InsurerCommission)
		s.TotalAgent = s.TotalAgent.Add(r.AgentCommission)
		s.TotalMisp = s.TotalMisp.Add(r.MispCommission)
		s.TotalEmployee = s.TotalEmployee.Add(r.EmployeeCommission)
		s.TotalBroker = s.TotalBroker.Add(r.BrokerShare)
		s.TotalPolicies++

		switch r.Status {
		case StatusCalculated:
			s.Calculated++
		case StatusNoGridMatch:
			s.NoGridMatch++
		}
		if r.Degraded {
			s.Degraded++
		}
	}
	return s
}
