// Package config loads and validates the exporter configuration from a YAML
// file, environment variables and built-in defaults. The configuration is
// read once at startup and treated as immutable for the rest of the run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides, e.g.
// COMET_EVENTHUB_NAMESPACE for eventHub.namespace.
const EnvPrefix = "COMET"

// Batch size defaults, tuned for a 256KB event hub tier.
const (
	DefaultBatchTargetBytes     = 220 * 1024
	DefaultBatchHardCapBytes    = 230 * 1024
	DefaultBatchSingleItemBytes = 150 * 1024
)

const (
	DefaultRetryMaxAttempts = 3
	DefaultRetryInitialWait = 2 * time.Second
	DefaultRetryMaxWait     = 60 * time.Second

	DefaultPageSize = 999

	DefaultParentDelayMinMillis = 1000
	DefaultParentDelayMaxMillis = 2000
)

// Config is the full exporter configuration.
type Config struct {
	TenantID         string `mapstructure:"tenantId"`
	IdentityClientID string `mapstructure:"identityClientId"`

	Subscriptions []Subscription `mapstructure:"subscriptions"`

	// Flat fallbacks for environments that cannot provide a structured
	// subscription list. Subscriptions wins, then SubscriptionIDs, then
	// SubscriptionID plus AdditionalSubscriptionIDs.
	SubscriptionIDs           string `mapstructure:"subscriptionIds"`
	SubscriptionID            string `mapstructure:"subscriptionId"`
	AdditionalSubscriptionIDs string `mapstructure:"additionalSubscriptionIds"`

	EventHub EventHub      `mapstructure:"eventHub"`
	Export   ExportOptions `mapstructure:"export"`
	Batch    BatchLimits   `mapstructure:"batch"`
	Retry    RetryPolicy   `mapstructure:"retry"`
	Fetch    FetchOptions  `mapstructure:"fetch"`
	Cleaning Cleaning      `mapstructure:"cleaning"`
	State    StateOptions  `mapstructure:"state"`
}

// Subscription describes one subscription to export. Priority orders
// processing (lower first); a missing enabled field counts as enabled.
type Subscription struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Enabled     *bool  `mapstructure:"enabled"`
	Priority    int    `mapstructure:"priority"`
}

// IsEnabled reports whether the subscription takes part in the run.
func (s Subscription) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EventHub identifies the event bus the export streams to.
type EventHub struct {
	Namespace string `mapstructure:"namespace"`
	Hub       string `mapstructure:"hub"`
}

// ExportOptions toggles optional record families. Everything here is
// opt-in; directory objects and subscription resources always export.
type ExportOptions struct {
	SubscriptionObjects         bool `mapstructure:"subscriptionObjects"`
	ResourceGroupDetails        bool `mapstructure:"resourceGroupDetails"`
	IncludeChildResources       bool `mapstructure:"includeChildResources"`
	RoleDefinitions             bool `mapstructure:"roleDefinitions"`
	RoleAssignments             bool `mapstructure:"roleAssignments"`
	PolicyDefinitions           bool `mapstructure:"policyDefinitions"`
	PolicyAssignments           bool `mapstructure:"policyAssignments"`
	PolicyExemptions            bool `mapstructure:"policyExemptions"`
	SecurityCenterSubscriptions bool `mapstructure:"securityCenterSubscriptions"`

	// Optional filters; empty means no filtering.
	ResourceGroupFilter []string `mapstructure:"resourceGroupFilter"`
	ResourceTypeFilter  []string `mapstructure:"resourceTypeFilter"`
}

// BatchLimits sizes the batcher. All values are bytes of serialized JSON.
type BatchLimits struct {
	TargetBytes     int `mapstructure:"targetBytes"`
	HardCapBytes    int `mapstructure:"hardCapBytes"`
	SingleItemBytes int `mapstructure:"singleItemBytes"`
}

// RetryPolicy shapes the exponential backoff used for transient failures.
// MaxAttempts counts retries after the first call.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	InitialWait time.Duration `mapstructure:"initialWait"`
	MaxWait     time.Duration `mapstructure:"maxWait"`
}

// FetchOptions paces the paginated source fetches.
type FetchOptions struct {
	PageSize             int     `mapstructure:"pageSize"`
	RequestsPerSecond    float64 `mapstructure:"requestsPerSecond"`
	ParentDelayMinMillis int     `mapstructure:"parentDelayMinMillis"`
	ParentDelayMaxMillis int     `mapstructure:"parentDelayMaxMillis"`
}

// Cleaning points at an optional extra rules file merged over the built-in
// field-strip table.
type Cleaning struct {
	RulesFile string `mapstructure:"rulesFile"`
}

// StateOptions locates the run-marker file recording the last successful
// export per scope. An empty path disables run markers.
type StateOptions struct {
	Path string `mapstructure:"path"`
}

// Load reads the configuration. path may be empty, in which case comet.yaml
// in the working directory and .comet.yaml in the home directory are tried;
// a missing file is fine and leaves defaults plus environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("comet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.SetConfigName(".comet")
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Documented variables whose names viper cannot derive from the keys.
	v.BindEnv("tenantId", "COMET_TENANT_ID")
	v.BindEnv("identityClientId", "COMET_IDENTITY_CLIENT_ID")
	v.BindEnv("eventHub.namespace", "COMET_EVENTHUB_NAMESPACE")
	v.BindEnv("eventHub.hub", "COMET_EVENTHUB_NAME")
	v.BindEnv("subscriptionIds", "COMET_SUBSCRIPTION_IDS")
	v.BindEnv("subscriptionId", "COMET_SUBSCRIPTION_ID")
	v.BindEnv("additionalSubscriptionIds", "COMET_ADDITIONAL_SUBSCRIPTION_IDS")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.Subscriptions) == 0 {
		cfg.Subscriptions = cfg.fallbackSubscriptions()
	}
	cfg.Subscriptions = dedupeSubscriptions(cfg.Subscriptions)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenantId", "")
	v.SetDefault("identityClientId", "")
	v.SetDefault("eventHub.namespace", "")
	v.SetDefault("eventHub.hub", "")
	v.SetDefault("batch.targetBytes", DefaultBatchTargetBytes)
	v.SetDefault("batch.hardCapBytes", DefaultBatchHardCapBytes)
	v.SetDefault("batch.singleItemBytes", DefaultBatchSingleItemBytes)
	v.SetDefault("retry.maxAttempts", DefaultRetryMaxAttempts)
	v.SetDefault("retry.initialWait", DefaultRetryInitialWait)
	v.SetDefault("retry.maxWait", DefaultRetryMaxWait)
	v.SetDefault("fetch.pageSize", DefaultPageSize)
	v.SetDefault("fetch.requestsPerSecond", 0)
	v.SetDefault("fetch.parentDelayMinMillis", DefaultParentDelayMinMillis)
	v.SetDefault("fetch.parentDelayMaxMillis", DefaultParentDelayMaxMillis)
	v.SetDefault("cleaning.rulesFile", "")
	v.SetDefault("state.path", "")
	v.SetDefault("subscriptionIds", "")
	v.SetDefault("subscriptionId", "")
	v.SetDefault("additionalSubscriptionIds", "")
}

// fallbackSubscriptions applies the documented fallback order: the multi-id
// value wins over the primary-plus-additional pair.
func (c *Config) fallbackSubscriptions() []Subscription {
	if c.SubscriptionIDs != "" {
		return subscriptionsFromList(splitIDs(c.SubscriptionIDs))
	}
	if c.SubscriptionID == "" {
		return nil
	}
	ids := append([]string{c.SubscriptionID}, splitIDs(c.AdditionalSubscriptionIDs)...)
	return subscriptionsFromList(ids)
}

func subscriptionsFromList(ids []string) []Subscription {
	subs := make([]Subscription, 0, len(ids))
	for i, id := range ids {
		subs = append(subs, Subscription{ID: id, Priority: i})
	}
	return subs
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	}) {
		if part := strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

func dedupeSubscriptions(subs []Subscription) []Subscription {
	seen := make(map[string]bool, len(subs))
	out := subs[:0]
	for _, s := range subs {
		key := strings.ToLower(s.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Validate checks the configuration for an export run. requireSink is false
// for dry runs, which never touch the event bus.
func (c *Config) Validate(requireSink bool) error {
	var errs []error

	if c.TenantID == "" {
		errs = append(errs, errors.New("tenantId is required"))
	}
	if requireSink {
		if c.EventHub.Namespace == "" {
			errs = append(errs, errors.New("eventHub.namespace is required"))
		}
		if c.EventHub.Hub == "" {
			errs = append(errs, errors.New("eventHub.hub is required"))
		}
	}

	if c.Batch.SingleItemBytes <= 0 {
		errs = append(errs, errors.New("batch.singleItemBytes must be positive"))
	}
	if c.Batch.TargetBytes < c.Batch.SingleItemBytes {
		errs = append(errs, errors.New("batch.targetBytes must be at least batch.singleItemBytes"))
	}
	if c.Batch.HardCapBytes < c.Batch.TargetBytes {
		errs = append(errs, errors.New("batch.hardCapBytes must be at least batch.targetBytes"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.maxAttempts must not be negative"))
	}
	if c.Retry.InitialWait <= 0 {
		errs = append(errs, errors.New("retry.initialWait must be positive"))
	}
	if c.Retry.MaxWait < c.Retry.InitialWait {
		errs = append(errs, errors.New("retry.maxWait must be at least retry.initialWait"))
	}

	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > 999 {
		errs = append(errs, errors.New("fetch.pageSize must be between 1 and 999"))
	}
	if c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("fetch.requestsPerSecond must not be negative"))
	}
	if c.Fetch.ParentDelayMinMillis < 0 || c.Fetch.ParentDelayMaxMillis < c.Fetch.ParentDelayMinMillis {
		errs = append(errs, errors.New("fetch.parentDelayMinMillis/MaxMillis must form a non-negative range"))
	}

	for i, sub := range c.Subscriptions {
		if sub.ID == "" {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: id is required", i))
		}
	}

	return errors.Join(errs...)
}
