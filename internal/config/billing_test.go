package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePolicyDefaults(t *testing.T) {
	v := viper.New()
	setPolicyDefaults(v)

	policy, err := decodePolicy(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultBillingPolicy(), policy)
}

func TestDecodePolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yml")
	content := []byte("billing:\n  outstandingInvoiceLimit: 3\n  currency: IDR\n  currencyScale: 0\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	v := viper.New()
	setPolicyDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	policy, err := decodePolicy(v)
	require.NoError(t, err)
	assert.Equal(t, 3, policy.OutstandingInvoiceLimit)
	assert.Equal(t, "IDR", policy.Currency)
	assert.Equal(t, int32(0), policy.CurrencyScale)
	assert.Equal(t, 3, policy.MaxMutationRetries)
}

func TestValidateBillingPolicyRejectsZeroLimit(t *testing.T) {
	p := DefaultBillingPolicy()
	p.OutstandingInvoiceLimit = 0
	assert.Error(t, validateBillingPolicy(p))

	p = DefaultBillingPolicy()
	p.Currency = " "
	assert.Error(t, validateBillingPolicy(p))
}
