// Package app holds process-level configuration.
package app

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/pitchforge/engine/internal/domain"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	DatabasePath      string `envconfig:"DATABASE_PATH" default:"file:pitchforge.db"`
	DatabaseAuthToken string `envconfig:"DATABASE_AUTH_TOKEN"`

	VaultDir     string `envconfig:"VAULT_DIR" default:"vault"`
	GeneratedDir string `envconfig:"GENERATED_DIR" default:"generated"`

	JudgeEndpoint string        `envconfig:"JUDGE_ENDPOINT" default:"https://api.anthropic.com/v1/messages"`
	JudgeAPIKey   string        `envconfig:"JUDGE_API_KEY"`
	JudgeModel    string        `envconfig:"JUDGE_MODEL" default:"claude-sonnet-4-20250514"`
	JudgeTimeout  time.Duration `envconfig:"JUDGE_TIMEOUT" default:"60s"`

	ImageEndpoint string `envconfig:"IMAGE_ENDPOINT"`
	ImageAPIKey   string `envconfig:"IMAGE_API_KEY"`
	ImageModel    string `envconfig:"IMAGE_MODEL" default:"flux.2-pro"`

	WorkerPoolSize   int           `envconfig:"WORKER_POOL_SIZE" default:"10"`
	DispatchTimeout  time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"150s"`
	EvalHardTimeout  time.Duration `envconfig:"EVAL_HARD_TIMEOUT" default:"120s"`
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	RecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"60s"`
	AllowFailProceed bool          `envconfig:"ALLOW_FAIL_PROCEED" default:"false"`

	PassThreshold   float64 `envconfig:"PASS_THRESHOLD" default:"0.65"`
	MercyThreshold  float64 `envconfig:"MERCY_THRESHOLD" default:"0.45"`
	MercyRetryCount int     `envconfig:"MERCY_RETRY_COUNT" default:"2"`
	MaxRetries      int     `envconfig:"MAX_RETRIES" default:"3"`
	RetryPenalty    float64 `envconfig:"RETRY_PENALTY_POINTS" default:"0"`

	OTELEndpoint string `envconfig:"OTEL_ENDPOINT"`
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELInsecure bool   `envconfig:"OTEL_INSECURE" default:"true"`
}

func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("pitchforge", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Scoring maps the configured overrides onto the default scoring constants.
func (c *Config) Scoring() domain.ScoringConfig {
	scoring := domain.DefaultScoringConfig()
	scoring.PassThreshold = c.PassThreshold
	scoring.MercyThreshold = c.MercyThreshold
	scoring.MercyRetryCount = c.MercyRetryCount
	scoring.MaxRetries = c.MaxRetries
	scoring.RetryPenaltyPerAttempt = c.RetryPenalty
	return scoring
}
