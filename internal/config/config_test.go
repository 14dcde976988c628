package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_USER_IDS", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.SchedulerInterval)
	assert.True(t, cfg.MinWithdrawal.Equal(decimal.NewFromInt(50)))
	assert.True(t, cfg.Fees.Out.Total().Equal(decimal.RequireFromString("0.07")))
	assert.True(t, cfg.Fees.In.ProfitPct.Equal(decimal.RequireFromString("0.05")))
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WEBHOOK_URL", "https://pay.example.com/")
	t.Setenv("ADMIN_USER_IDS", "11, 22,33")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FEE_OUT_MIN_FIXED", "1.50")
	t.Setenv("SCHEDULER_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://pay.example.com", cfg.Server.WebhookURL)
	assert.Equal(t, []int64{11, 22, 33}, cfg.Auth.AdminUserIDs)
	assert.True(t, cfg.Auth.IsAdmin(22))
	assert.False(t, cfg.Auth.IsAdmin(44))
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Fees.Out.MinFixed.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 15*time.Second, cfg.SchedulerInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"ADMIN_USER_IDS":     "1,abc",
		"MIN_WITHDRAWAL":     "fifty",
		"FEE_IN_PROFIT":      "-0.1",
		"SCHEDULER_INTERVAL": "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
