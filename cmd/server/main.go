package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tyemirov/bookwise/internal/authkit"
	"github.com/tyemirov/bookwise/internal/books"
	"github.com/tyemirov/bookwise/internal/identity"
	"github.com/tyemirov/bookwise/internal/profilepg"
	"github.com/tyemirov/bookwise/internal/web"
	webassets "github.com/tyemirov/bookwise/web"
	"github.com/tyemirov/bookwise/pkg/sessiontoken"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (identity.GoogleTokenValidator, error) {
	return identity.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "bookwise",
		Short:   "Book recommendation service with provider-backed sessions, profile sync, and role-gated admin",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("catalog_base_url", "", "Base URL of the book catalog API")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	rootCmd.Flags().Duration("session_ttl", time.Hour, "Access token TTL for the local provider")
	rootCmd.Flags().String("database_url", "", "Profile store URL (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().Bool("native_pg", false, "Use the raw-SQL PostgreSQL profile store instead of GORM (postgres URLs only)")
	rootCmd.Flags().String("provider_base_url", "", "Hosted identity provider base URL; leave empty for the built-in provider")
	rootCmd.Flags().String("provider_api_key", "", "API key for the hosted identity provider")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID")
	rootCmd.Flags().String("google_redirect_url", "", "Redirect URL registered for Google sign-in")
	rootCmd.Flags().String("public_base_url", "http://localhost:8080", "Public base URL of this service")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Float64("signin_rate", 1, "Allowed credential attempts per second per IP")
	rootCmd.Flags().Int("signin_burst", 5, "Burst of credential attempts per IP")

	for _, flagName := range []string{
		"listen_addr", "catalog_base_url", "jwt_signing_key", "session_ttl",
		"database_url", "native_pg", "provider_base_url", "provider_api_key",
		"google_web_client_id", "google_redirect_url", "public_base_url",
		"enable_cors", "cors_allowed_origins", "signin_rate", "signin_burst",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	tokenIssuer = "bookwise-identity"

	configCodeMissingJWTSigningKey  = "config.missing_jwt_signing_key"
	configCodeMissingCatalogBaseURL = "config.missing_catalog_base_url"
	configCodeInvalidSessionTTL     = "config.invalid_session_ttl"
	configCodeMissingProviderAPIKey = "config.missing_provider_api_key"
	configCodeUninitializedConf     = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit   = "config.google_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig holds the validated runtime configuration.
type ServerConfig struct {
	ListenAddr        string
	CatalogBaseURL    string
	JWTSigningKey     []byte
	SessionTTL        time.Duration
	DatabaseURL       string
	NativePG          bool
	ProviderBaseURL   string
	ProviderAPIKey    string
	GoogleWebClientID string
	GoogleRedirectURL string
	PublicBaseURL     string
	EnableCORS        bool
	CORSOrigins       []string
	SignInRate        float64
	SignInBurst       int
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates configuration from viper.
func LoadServerConfig() (ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	catalogBaseURL := viper.GetString("catalog_base_url")
	if catalogBaseURL == "" {
		return ServerConfig{}, configError(configCodeMissingCatalogBaseURL, "catalog_base_url must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	providerBaseURL := viper.GetString("provider_base_url")
	providerAPIKey := viper.GetString("provider_api_key")
	if providerBaseURL != "" && providerAPIKey == "" {
		return ServerConfig{}, configError(configCodeMissingProviderAPIKey, "provider_api_key must be provided with provider_base_url")
	}

	return ServerConfig{
		ListenAddr:        viper.GetString("listen_addr"),
		CatalogBaseURL:    catalogBaseURL,
		JWTSigningKey:     []byte(jwtSigningKey),
		SessionTTL:        sessionTTL,
		DatabaseURL:       viper.GetString("database_url"),
		NativePG:          viper.GetBool("native_pg"),
		ProviderBaseURL:   providerBaseURL,
		ProviderAPIKey:    providerAPIKey,
		GoogleWebClientID: viper.GetString("google_web_client_id"),
		GoogleRedirectURL: viper.GetString("google_redirect_url"),
		PublicBaseURL:     viper.GetString("public_base_url"),
		EnableCORS:        viper.GetBool("enable_cors"),
		CORSOrigins:       viper.GetStringSlice("cors_allowed_origins"),
		SignInRate:        viper.GetFloat64("signin_rate"),
		SignInBurst:       viper.GetInt("signin_burst"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	profiles, profilesErr := buildProfileStore(context.Background(), serverConfig, logger)
	if profilesErr != nil {
		return profilesErr
	}

	provider, googleExchange, providerErr := buildIdentityProvider(command.Context(), serverConfig)
	if providerErr != nil {
		return providerErr
	}

	metricsRecorder := authkit.NewCounterMetrics()
	authService := authkit.NewAuthService(provider.client, provider.assets, profiles, logger, nil, metricsRecorder, authkit.ServiceConfig{
		RedirectTarget: serverConfig.PublicBaseURL,
	})
	authService.Start(context.Background())
	defer authService.Close()

	catalogClient, catalogErr := books.NewClient(books.Config{
		BaseURL: serverConfig.CatalogBaseURL,
		Logger:  logger,
	})
	if catalogErr != nil {
		return catalogErr
	}

	tokenValidator, validatorErr := sessiontoken.New(sessiontoken.Config{
		SigningKey: serverConfig.JWTSigningKey,
		Issuer:     tokenIssuer,
	})
	if validatorErr != nil {
		return validatorErr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	router.GET("/", func(contextGin *gin.Context) {
		web.ServeEmbeddedStatic(contextGin, webassets.FS, "index.html", "text/html; charset=utf-8")
	})
	router.GET("/static/auth-client.js", func(contextGin *gin.Context) {
		web.ServeEmbeddedStatic(contextGin, webassets.FS, "auth-client.js", "application/javascript; charset=utf-8")
	})
	router.GET("/static/app-config.js", func(contextGin *gin.Context) {
		web.ServeAppConfig(contextGin, web.AppConfig{
			GoogleClientID: serverConfig.GoogleWebClientID,
			CatalogBaseURL: serverConfig.CatalogBaseURL,
			BaseURL:        serverConfig.PublicBaseURL,
		})
	})

	web.MountAuthRoutes(router, web.AuthDeps{
		Service:        authService,
		Logger:         logger,
		Limiter:        web.NewIPRateLimiter(rate.Limit(serverConfig.SignInRate), serverConfig.SignInBurst),
		GoogleExchange: googleExchange,
	})

	web.MountBookRoutes(router, web.BookDeps{
		Catalog: catalogClient,
		Logger:  logger,
		Admin:   web.RequireRole(tokenValidator, authkit.NewRoleResolver(profiles, logger), authkit.RoleAdmin),
	})

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

type providerBundle struct {
	client identity.Client
	assets identity.AssetStore
}

func buildIdentityProvider(ctx context.Context, serverConfig ServerConfig) (providerBundle, web.GoogleExchangeFunc, error) {
	if serverConfig.ProviderBaseURL != "" {
		restProvider, restErr := identity.NewRestProvider(identity.RestConfig{
			BaseURL: serverConfig.ProviderBaseURL,
			APIKey:  serverConfig.ProviderAPIKey,
		})
		if restErr != nil {
			return providerBundle{}, nil, restErr
		}
		return providerBundle{client: restProvider, assets: restProvider}, nil, nil
	}

	localProvider, localErr := identity.NewLocalProvider(identity.LocalConfig{
		Issuer:            tokenIssuer,
		TokenSigningKey:   serverConfig.JWTSigningKey,
		SessionTTL:        serverConfig.SessionTTL,
		PublicBaseURL:     serverConfig.PublicBaseURL,
		GoogleWebClientID: serverConfig.GoogleWebClientID,
		GoogleRedirectURL: serverConfig.GoogleRedirectURL,
	})
	if localErr != nil {
		return providerBundle{}, nil, localErr
	}

	var googleExchange web.GoogleExchangeFunc
	if serverConfig.GoogleWebClientID != "" {
		googleValidator, validatorErr := buildGoogleTokenValidator(ctx)
		if validatorErr != nil {
			return providerBundle{}, nil, fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
		}
		googleExchange = func(exchangeCtx context.Context, rawIDToken string) (*identity.AuthResult, error) {
			return localProvider.ExchangeGoogleIDToken(exchangeCtx, googleValidator, rawIDToken)
		}
	}

	return providerBundle{client: localProvider, assets: localProvider}, googleExchange, nil
}

func buildProfileStore(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (authkit.ProfileStore, error) {
	if serverConfig.DatabaseURL == "" {
		logger.Info("using in-memory profile store")
		return authkit.NewMemoryProfileStore(), nil
	}
	if serverConfig.NativePG {
		pool, poolErr := profilepg.BuildPool(ctx, serverConfig.DatabaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := profilepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using native postgres profile store")
		return profilepg.NewPostgresProfileStore(pool), nil
	}
	store, storeErr := authkit.NewDatabaseProfileStore(ctx, serverConfig.DatabaseURL)
	if storeErr != nil {
		return nil, storeErr
	}
	logger.Info("using persistent profile store", zap.String("driver", store.Driver()))
	return store, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
