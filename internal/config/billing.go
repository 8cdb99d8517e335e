package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingPolicy holds the clinic-wide billing rules. It is hot reloaded from billing.yml.
type BillingPolicy struct {
	OutstandingInvoiceLimit int    `mapstructure:"outstandingInvoiceLimit"`
	Currency                string `mapstructure:"currency"`
	CurrencyScale           int32  `mapstructure:"currencyScale"`
	Locale                  string `mapstructure:"locale"`
	InvoiceNumberTemplate   string `mapstructure:"invoiceNumberTemplate"`
	MaxMutationRetries      int    `mapstructure:"maxMutationRetries"`
	AuditQueueSize          int    `mapstructure:"auditQueueSize"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		OutstandingInvoiceLimit: 2,
		Currency:                "USD",
		CurrencyScale:           2,
		Locale:                  "en-US",
		InvoiceNumberTemplate:   "INV-{YYYY}{MM}{DD}-{SEQ6}",
		MaxMutationRetries:      3,
		AuditQueueSize:          1024,
	}
}

// PolicySource supplies the current billing policy.
type PolicySource interface {
	Get() BillingPolicy
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy BillingPolicy

func (p StaticPolicy) Get() BillingPolicy { return BillingPolicy(p) }

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewBillingPolicyHolder reads billing.yml and keeps watching it for changes.
// A missing file falls back to DefaultBillingPolicy.
func NewBillingPolicyHolder(log *zap.Logger) (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/clinicpay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLINICPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setPolicyDefaults(v)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePolicy(v)
			if err != nil {
				log.Warn("billing policy reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("billing policy reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func setPolicyDefaults(v *viper.Viper) {
	d := DefaultBillingPolicy()
	v.SetDefault("billing.outstandingInvoiceLimit", d.OutstandingInvoiceLimit)
	v.SetDefault("billing.currency", d.Currency)
	v.SetDefault("billing.currencyScale", d.CurrencyScale)
	v.SetDefault("billing.locale", d.Locale)
	v.SetDefault("billing.invoiceNumberTemplate", d.InvoiceNumberTemplate)
	v.SetDefault("billing.maxMutationRetries", d.MaxMutationRetries)
	v.SetDefault("billing.auditQueueSize", d.AuditQueueSize)
}

func decodePolicy(v *viper.Viper) (BillingPolicy, error) {
	// Unmarshal merges file values with defaults key by key; UnmarshalKey on
	// "billing" would drop defaults for keys missing from a partial file.
	var file struct {
		Billing BillingPolicy `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return BillingPolicy{}, err
	}
	if err := validateBillingPolicy(file.Billing); err != nil {
		return BillingPolicy{}, err
	}
	return file.Billing, nil
}

func validateBillingPolicy(p BillingPolicy) error {
	if p.OutstandingInvoiceLimit < 1 {
		return errors.New("billing.outstandingInvoiceLimit must be at least 1")
	}
	if strings.TrimSpace(p.Currency) == "" {
		return errors.New("billing.currency cannot be empty")
	}
	if p.CurrencyScale < 0 || p.CurrencyScale > 4 {
		return errors.New("billing.currencyScale must be between 0 and 4")
	}
	if strings.TrimSpace(p.InvoiceNumberTemplate) == "" {
		return errors.New("billing.invoiceNumberTemplate cannot be empty")
	}
	if p.MaxMutationRetries < 1 {
		return errors.New("billing.maxMutationRetries must be at least 1")
	}
	if p.AuditQueueSize < 1 {
		return errors.New("billing.auditQueueSize must be at least 1")
	}
	return nil
}
