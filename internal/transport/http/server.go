package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"

	"intellixdoc/internal/app"
	"intellixdoc/internal/bootstrap"
	mysqlClient "intellixdoc/internal/platform/mysql"
	rabbitmqClient "intellixdoc/internal/platform/rabbitmq"
	"intellixdoc/internal/transport/http/handler"
	"intellixdoc/internal/transport/http/middleware"
)

// Options carries what the gin engine needs, independent of how the
// services were built.
type Options struct {
	AppName        string
	Env            string
	GinMode        string
	JWTSecret      string
	MaxUploadBytes int64
	StartedAt      time.Time
	Documents      *app.DocumentService
	Chats          *app.ChatService
	HealthChecks   []handler.HealthCheck
}

func NewEngine(opts Options) *gin.Engine {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(opts.AppName, opts.Env, opts.StartedAt, opts.HealthChecks...)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(opts.Documents, opts.MaxUploadBytes)
	chatHandler := handler.NewChatHandler(opts.Chats)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(opts.JWTSecret))

	documents := v1.Group("/documents")
	documents.POST("", documentHandler.Upload)
	documents.GET("", documentHandler.List)
	documents.GET("/:id", documentHandler.Get)
	documents.DELETE("/:id", documentHandler.Delete)
	documents.POST("/:id/reingest", documentHandler.Reingest)

	chats := v1.Group("/chats")
	chats.POST("", chatHandler.CreateChat)
	chats.GET("", chatHandler.ListChats)
	chats.GET("/:id", chatHandler.GetChat)
	chats.DELETE("/:id", chatHandler.DeleteChat)
	chats.GET("/:id/messages", chatHandler.ListMessages)
	chats.POST("/:id/messages", chatHandler.SendMessage)

	return router
}

// NewRouter builds the engine from a bootstrapped App and wraps it with CORS.
func NewRouter(a *bootstrap.App) http.Handler {
	cfg := a.Config
	engine := NewEngine(Options{
		AppName:        cfg.App.Name,
		Env:            cfg.App.Env,
		GinMode:        cfg.App.GinMode,
		JWTSecret:      cfg.Auth.JWTSecret,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		StartedAt:      a.StartedAt,
		Documents:      a.Documents,
		Chats:          a.Chats,
		HealthChecks:   healthChecks(a),
	})

	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.App.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})(engine)
}

func healthChecks(a *bootstrap.App) []handler.HealthCheck {
	var checks []handler.HealthCheck
	if a.MySQL != nil {
		checks = append(checks, handler.HealthCheck{Name: "mysql", Check: func(ctx context.Context) error {
			return mysqlClient.Ping(ctx, a.MySQL)
		}})
	}
	if a.Redis != nil {
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}})
	}
	if a.MQConn != nil {
		checks = append(checks, handler.HealthCheck{Name: "rabbitmq", Check: func(ctx context.Context) error {
			return rabbitmqClient.Ping(ctx, a.MQConn)
		}})
	}
	checks = append(checks,
		handler.HealthCheck{Name: "vector_index", Check: a.Index.Ping},
		handler.HealthCheck{Name: "embedder", Check: func(context.Context) error {
			if got, want := a.Embedder.Dimension(), a.Index.Dimension(); got != want {
				return fmt.Errorf("embedder %s yields %d dimensions, index expects %d", a.Embedder.Model(), got, want)
			}
			return nil
		}},
	)
	return checks
}
