package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/rescue-triage/internal/config"
	"github.com/wolfman30/rescue-triage/internal/triage"
	"github.com/wolfman30/rescue-triage/pkg/logging"
)

// NeedsAWS reports whether any configured backend talks to AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	if cfg == nil {
		return false
	}
	return cfg.QueueBackend == "sqs" ||
		cfg.JobStoreBackend == "dynamodb" ||
		cfg.ResponseArchiveBucket != "" ||
		cfg.AIFallback == "bedrock" ||
		(cfg.SESFromEmail != "" && cfg.SendGridAPIKey == "")
}

// BuildQueue selects the triage job transport named by QUEUE_BACKEND.
// The memory queue only works when the worker runs in the same process.
func BuildQueue(cfg *appconfig.Config, awsCfg aws.Config, redisClient *redis.Client, logger *logging.Logger) (triage.Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.QueueBackend {
	case "", "memory":
		return triage.NewMemoryQueue(256), nil
	case "sqs":
		if cfg.TriageQueueURL == "" {
			return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=sqs requires TRIAGE_QUEUE_URL")
		}
		return triage.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.TriageQueueURL), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=redis requires a redis client")
		}
		logger.Info("using redis triage queue", "key", cfg.RedisQueueKey)
		return triage.NewRedisQueue(redisClient, cfg.RedisQueueKey), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// BuildJobStore selects the job status store named by JOB_STORE_BACKEND.
// "none" disables tracking and returns a nil tracker.
func BuildJobStore(cfg *appconfig.Config, awsCfg aws.Config, pool *pgxpool.Pool, logger *logging.Logger) (triage.JobTracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.JobStoreBackend {
	case "none":
		return nil, nil
	case "", "memory":
		return triage.NewMemoryJobStore(), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: JOB_STORE_BACKEND=postgres requires DATABASE_URL")
		}
		return triage.NewPGJobStore(pool), nil
	case "dynamodb":
		return triage.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.TriageJobsTable, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown JOB_STORE_BACKEND %q", cfg.JobStoreBackend)
	}
}
