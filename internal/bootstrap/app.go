package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"intellixdoc/internal/ai"
	"intellixdoc/internal/answer"
	"intellixdoc/internal/app"
	"intellixdoc/internal/blobstore"
	"intellixdoc/internal/cache"
	"intellixdoc/internal/chunker"
	"intellixdoc/internal/config"
	"intellixdoc/internal/ingest"
	"intellixdoc/internal/logger"
	"intellixdoc/internal/pkg/pdfextract"
	mysqlClient "intellixdoc/internal/platform/mysql"
	postgresClient "intellixdoc/internal/platform/postgres"
	rabbitmqClient "intellixdoc/internal/platform/rabbitmq"
	redisClient "intellixdoc/internal/platform/redis"
	"intellixdoc/internal/repository"
	"intellixdoc/internal/repository/memstore"
	"intellixdoc/internal/retrieval"
	"intellixdoc/internal/vectorindex"
	"intellixdoc/internal/vectorindex/memory"
	"intellixdoc/internal/vectorindex/pgvector"
	"intellixdoc/internal/worker"
)

// App holds every long-lived dependency of the service. Optional
// connections are nil when their backend is not configured.
type App struct {
	Config    *config.Config
	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Postgres  *sql.DB
	Index     vectorindex.Index
	Embedder  ai.Embedder
	Generator ai.Generator
	Blobs     blobstore.Store

	Pipeline   *ingest.Pipeline
	Dispatcher *worker.Dispatcher
	Scheduler  worker.Scheduler
	LocalQueue *worker.LocalQueue

	Documents *app.DocumentService
	Chats     *app.ChatService

	ingestWorker *worker.IngestWorker
	StartedAt    time.Time
}

type metadataStores struct {
	documents interface {
		ingest.DocumentStore
		retrieval.DocumentStatusReader
		app.DocumentRepository
	}
	chunks   ingest.ChunkStore
	chats    app.ChatRepository
	messages app.MessageRepository
}

// New connects to the configured backends and wires the services. On error
// everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	stores, err := a.openMetadata(ctx)
	if err != nil {
		return err
	}

	if cfg.Redis.Addr != "" {
		a.Redis, err = redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
	}

	if a.Index, err = a.openIndex(ctx); err != nil {
		return err
	}
	if a.Blobs, err = a.openBlobStore(ctx); err != nil {
		return err
	}
	if a.Embedder, err = ai.NewEmbedder(ctx, cfg); err != nil {
		return fmt.Errorf("create embedder failed: %w", err)
	}
	if a.Generator, err = ai.NewGenerator(ctx, cfg); err != nil {
		return fmt.Errorf("create generator failed: %w", err)
	}
	if a.Embedder.Dimension() != a.Index.Dimension() {
		logger.Warn("bootstrap: embedder %s yields %d dimensions but the index expects %d; ingestion will fail",
			a.Embedder.Model(), a.Embedder.Dimension(), a.Index.Dimension())
	}

	ch := chunker.New(
		chunker.WithChunkSize(cfg.Ingestion.ChunkSize),
		chunker.WithOverlap(cfg.Ingestion.ChunkOverlap),
		chunker.WithTolerance(cfg.Ingestion.BoundaryTolerance),
	)
	a.Pipeline = ingest.NewPipeline(stores.documents, stores.chunks, a.Blobs, pdfextract.NewExtractor(), ch, a.Embedder, a.Index, ingest.Options{
		BatchSize:        cfg.Ingestion.BatchSize,
		BatchConcurrency: cfg.Ingestion.BatchConcurrency,
		ExtractTimeout:   cfg.ExtractTimeout(),
		EmbedTimeout:     cfg.EmbedTimeout(),
	})

	var locker worker.Locker = worker.NewMemoryLocker()
	if a.Redis != nil {
		locker = worker.NewRedisLocker(a.Redis)
	}
	a.Dispatcher = worker.NewDispatcher(a.Pipeline, locker, worker.DispatcherOptions{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff(),
		LeaseTTL:     cfg.LeaseTTL(),
	})

	switch cfg.Queue.Backend {
	case config.QueueBackendRabbitMQ:
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL); err != nil {
			return err
		}
		a.Scheduler = rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
	default:
		a.LocalQueue = worker.NewLocalQueue(a.Dispatcher, cfg.Queue.Workers, cfg.RetryBackoff())
		a.Scheduler = a.LocalQueue
	}

	a.Documents = app.NewDocumentService(stores.documents, a.Blobs, a.Index, a.Scheduler, locker, cfg.MaxUploadBytes())

	var history app.HistoryCache
	if a.Redis != nil {
		history = cache.NewHistoryCache(a.Redis, cfg.HistoryTTL(), cfg.HistoryDirtyTTL())
	}
	engine := retrieval.NewEngine(stores.documents, a.Embedder, a.Index, cfg.Retrieval.TopK, cfg.Retrieval.RelevanceFloor)
	composer := answer.NewComposer(a.Generator, cfg.Retrieval.HistoryWindow)
	a.Chats = app.NewChatService(stores.chats, stores.messages, stores.documents, history, engine, composer, cfg.Retrieval.HistoryWindow)
	return nil
}

func (a *App) openMetadata(ctx context.Context) (metadataStores, error) {
	if a.Config.Metadata.Backend == config.MetadataBackendMemory {
		logger.Warn("bootstrap: metadata is kept in memory and lost on restart")
		chunks := memstore.NewChunks()
		messages := memstore.NewMessages()
		return metadataStores{
			documents: memstore.NewDocuments(chunks),
			chunks:    chunks,
			chats:     memstore.NewChats(messages),
			messages:  messages,
		}, nil
	}

	db, err := mysqlClient.New(ctx, a.Config.MySQLDSN())
	if err != nil {
		return metadataStores{}, err
	}
	a.MySQL = db
	if err := repository.AutoMigrate(db); err != nil {
		return metadataStores{}, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return metadataStores{
		documents: repository.NewDocumentRepository(db),
		chunks:    repository.NewChunkRepository(db),
		chats:     repository.NewChatRepository(db),
		messages:  repository.NewMessageRepository(db),
	}, nil
}

func (a *App) openIndex(ctx context.Context) (vectorindex.Index, error) {
	cfg := a.Config
	if cfg.VectorIndex.Backend != config.IndexBackendPgvector {
		return memory.New(cfg.Embedding.Dimension), nil
	}

	db, err := postgresClient.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	a.Postgres = db
	ix, err := pgvector.New(db, cfg.VectorIndex.Table, cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}
	if err := ix.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare vector index failed: %w", err)
	}
	return ix, nil
}

func (a *App) openBlobStore(ctx context.Context) (blobstore.Store, error) {
	if a.Config.Storage.Backend == config.StorageBackendS3 {
		s3, err := blobstore.NewS3(ctx, a.Config.S3)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := blobstore.NewLocal(a.Config.Storage.LocalDir)
	if err != nil {
		return nil, err
	}
	return local, nil
}

// StartLocalWorkers runs the in-process ingestion workers and requeues
// documents a previous run left unfinished. It is a no-op for the
// rabbitmq backend, whose jobs run in the worker command.
func (a *App) StartLocalWorkers(ctx context.Context) error {
	if a.LocalQueue == nil {
		return nil
	}
	a.LocalQueue.Start(ctx)
	if _, err := a.Documents.ResumePending(ctx); err != nil {
		return fmt.Errorf("resume pending documents failed: %w", err)
	}
	return nil
}

// StartIngestWorker consumes the RabbitMQ ingestion queue.
func (a *App) StartIngestWorker(ctx context.Context) error {
	if a.MQConn == nil {
		return errors.New("ingest worker requires queue.backend = \"rabbitmq\"")
	}
	if a.ingestWorker != nil {
		return nil
	}
	w := worker.NewIngestWorker(a.MQConn, a.Dispatcher, a.Config.RabbitMQ.IngestQueue, a.Config.Queue.Workers, a.Config.RetryBackoff())
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	a.ingestWorker = w
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.LocalQueue != nil {
		a.LocalQueue.Close()
	}
	if a.ingestWorker != nil {
		a.ingestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Generator != nil {
		errs = append(errs, a.Generator.Close())
	}
	if a.Embedder != nil {
		errs = append(errs, a.Embedder.Close())
	}
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	} else if a.Postgres != nil {
		errs = append(errs, a.Postgres.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
