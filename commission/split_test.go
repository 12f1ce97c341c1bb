package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
)

func rates(base, reward, bonus string) commission.Rates {
	return commission.Rates{Base: dec(base), Reward: dec(reward), Bonus: dec(bonus)}
}

func TestSplitCommission_SourceLandsInOneBucket(t *testing.T) {
	tests := []struct {
		source       commission.SourceType
		wantAgent    string
		wantMisp     string
		wantEmployee string
		wantBroker   string
	}{
		{commission.SourceAgent, "700", "0", "0", "300"},
		{commission.SourceMisp, "0", "700", "0", "300"},
		{commission.SourceEmployee, "0", "0", "700", "300"},
		{commission.SourceDirect, "0", "0", "0", "1000"},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			s, err := commission.SplitCommission(dec("10000"), rates("8", "1", "1"), tt.source, dec("70"))
			require.NoError(t, err)
			assertMoney(t, "1000", s.InsurerCommission)
			assertMoney(t, tt.wantAgent, s.AgentCommission)
			assertMoney(t, tt.wantMisp, s.MispCommission)
			assertMoney(t, tt.wantEmployee, s.EmployeeCommission)
			assertMoney(t, tt.wantBroker, s.BrokerShare)
		})
	}
}

func TestSplitCommission_ComponentsSumToInsurer(t *testing.T) {
	s, err := commission.SplitCommission(dec("33333.33"), rates("7.5", "1.25", "0.6"), commission.SourceAgent, dec("62.5"))
	require.NoError(t, err)

	assert.True(t, s.InsurerCommission.Equal(s.BaseCommission.Add(s.RewardCommission).Add(s.BonusCommission)))
	assert.True(t, s.InsurerCommission.Equal(s.AgentCommission.Add(s.BrokerShare)))
}

func TestSplitCommission_ZeroPremium(t *testing.T) {
	s, err := commission.SplitCommission(decimal.Zero, rates("10", "0", "0"), commission.SourceAgent, dec("70"))
	require.NoError(t, err)
	assert.True(t, s.InsurerCommission.IsZero())
	assert.True(t, s.BrokerShare.IsZero())
}

func TestSplitCommission_RejectsBadInput(t *testing.T) {
	_, err := commission.SplitCommission(dec("-1"), rates("10", "0", "0"), commission.SourceAgent, dec("70"))
	assert.ErrorIs(t, err, commission.ErrNegativeAmount)

	_, err = commission.SplitCommission(dec("100"), rates("10", "-1", "0"), commission.SourceAgent, dec("70"))
	assert.ErrorIs(t, err, commission.ErrNegativeAmount)

	_, err = commission.SplitCommission(dec("100"), rates("10", "0", "0"), commission.SourceAgent, dec("100.01"))
	assert.ErrorIs(t, err, commission.ErrInvalidShare)

	_, err = commission.SplitCommission(dec("100"), rates("10", "0", "0"), commission.SourceAgent, dec("-5"))
	assert.ErrorIs(t, err, commission.ErrInvalidShare)
}

func TestSplitCommission_FullShareLeavesBrokerZero(t *testing.T) {
	s, err := commission.SplitCommission(dec("5000"), rates("10", "0", "0"), commission.SourceMisp, dec("100"))
	require.NoError(t, err)
	assertMoney(t, "500", s.MispCommission)
	assertMoney(t, "0", s.BrokerShare)
}
