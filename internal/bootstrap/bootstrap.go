// Package bootstrap wires the pipeline's dependencies from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"

	"github.com/maauso/contentcraft-pipeline/internal/auth"
	"github.com/maauso/contentcraft-pipeline/internal/config"
	"github.com/maauso/contentcraft-pipeline/internal/event"
	"github.com/maauso/contentcraft-pipeline/internal/fal"
	"github.com/maauso/contentcraft-pipeline/internal/generator"
	"github.com/maauso/contentcraft-pipeline/internal/job"
	"github.com/maauso/contentcraft-pipeline/internal/media"
	"github.com/maauso/contentcraft-pipeline/internal/pipeline"
	"github.com/maauso/contentcraft-pipeline/internal/storage"
	"github.com/maauso/contentcraft-pipeline/internal/store"
	"github.com/maauso/contentcraft-pipeline/internal/tier"
)

// Dependencies holds all initialized dependencies for the HTTP server
// and the background drainer.
type Dependencies struct {
	Service       *job.Service
	Drainer       *pipeline.Drainer
	Bus           *event.LocalBus
	Authenticator auth.Authenticator
	Admins        auth.Authorizer

	closers []func()
}

// Close releases the job store connections.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Authenticator: auth.NewBearerAuthenticator(cfg.JWTSecret),
		Admins:        auth.NewAllowList(cfg.AdminIDs),
	}

	catalog, err := initCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	jobs, err := initJobStore(ctx, cfg, deps, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	// Subscriptions always live on the local bus. With EventBridge the
	// stages publish remotely and events come back through POST /events.
	deps.Bus = event.NewLocalBus(logger, event.WithAsyncDelivery(true))
	publisher, err := initPublisher(ctx, cfg, deps.Bus, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	falClient, err := fal.NewClient(cfg.FalAPIKey, fal.WithBaseURL(cfg.FalBaseURL))
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("create fal client: %w", err)
	}
	gen := generator.NewFalAdapter(falClient)

	files, err := initStorage(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	mediaCombiner := media.NewCombiner(
		media.NewFFmpegProcessor(cfg.FFmpegPath),
		media.NewHTTPDownloader(nil),
		files,
		logger,
	)

	genTimeout := pipeline.WithGenerationTimeout(cfg.GenerationTimeout())
	pipeline.Register(deps.Bus,
		pipeline.NewModalityHandler(job.ModalityVideo, jobs, gen, publisher, logger, genTimeout),
		pipeline.NewModalityHandler(job.ModalityAudio, jobs, gen, publisher, logger, genTimeout),
		pipeline.NewOrchestrator(jobs, publisher, logger),
		pipeline.NewCombiner(jobs, mediaCombiner, publisher, logger, pipeline.WithCombineTimeout(cfg.CombineTimeout())),
	)

	deps.Drainer = pipeline.NewDrainer(jobs, publisher, catalog, logger, pipeline.WithBatchSize(cfg.DrainBatchSize))
	deps.Service = job.NewService(jobs, catalog, logger, job.WithAllowedResolutions(cfg.AllowedResolutions))

	return deps, nil
}

func initCatalog(cfg *config.Config, logger *slog.Logger) (*tier.Catalog, error) {
	if cfg.TiersFile == "" {
		return tier.Default(), nil
	}
	catalog, err := tier.LoadFile(cfg.TiersFile)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	logger.Info("tier catalog loaded", slog.String("path", cfg.TiersFile))
	return catalog, nil
}

// initJobStore opens the backend named by JOB_STORE.
func initJobStore(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (job.Store, error) {
	switch cfg.JobStore {
	case config.StoreMemory:
		logger.Info("job store configured", slog.String("backend", cfg.JobStore))
		return job.NewMemoryStore(), nil

	case config.StoreSQLite:
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite job store: %w", err)
		}
		deps.closers = append(deps.closers, func() { _ = s.Close() })
		logger.Info("job store configured",
			slog.String("backend", cfg.JobStore),
			slog.String("path", cfg.SQLitePath),
		)
		return s, nil

	case config.StorePostgres:
		pool, err := store.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres job store: %w", err)
		}
		s := store.NewPostgres(pool)
		deps.closers = append(deps.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres job store: %w", err)
		}
		logger.Info("job store configured", slog.String("backend", cfg.JobStore))
		return s, nil

	case config.StoreDynamoDB:
		awsCfg, err := loadAWSConfig(ctx, cfg, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		logger.Info("job store configured",
			slog.String("backend", cfg.JobStore),
			slog.String("table", cfg.DynamoDBTable),
		)
		return store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownJobStore, cfg.JobStore)
}

func initPublisher(ctx context.Context, cfg *config.Config, bus *event.LocalBus, logger *slog.Logger) (event.Publisher, error) {
	if cfg.EventBus != config.BusEventBridge {
		logger.Info("event bus configured", slog.String("backend", config.BusLocal))
		return bus, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	logger.Info("event bus configured",
		slog.String("backend", cfg.EventBus),
		slog.String("bus_name", cfg.EventBusName),
	)
	return event.NewEventBridgePublisher(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName), nil
}

// loadAWSConfig resolves the default AWS chain, preferring static keys
// when both are configured.
func loadAWSConfig(ctx context.Context, cfg *config.Config, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		return aws.Config{}, errors.New("load AWS config: no region configured (set AWS_REGION)")
	}
	return awsCfg, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir, storage.WithPublicBaseURL(cfg.PublicBaseURL))
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
