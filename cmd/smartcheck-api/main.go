package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"

	"github.com/smartchecklab/smartcheck/internal/auth"
	"github.com/smartchecklab/smartcheck/internal/autofill"
	"github.com/smartchecklab/smartcheck/internal/checklist"
	"github.com/smartchecklab/smartcheck/internal/config"
	"github.com/smartchecklab/smartcheck/internal/database"
	"github.com/smartchecklab/smartcheck/internal/logging"
	"github.com/smartchecklab/smartcheck/internal/server"
	"github.com/smartchecklab/smartcheck/internal/suggest"
)

const (
	tokenIssuerName   = "smartcheck-auth"
	tokenAudienceName = "smartcheck-api"
	backendTokenTTL   = 12 * time.Hour
	documentAIScope   = "https://www.googleapis.com/auth/cloud-platform"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartcheck-api",
		Short: "Smart check sheet backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("auth.google_client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("auth.google_jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("genai-model", defaults.GetString("genai.model"), "Generative model name")
	cmd.PersistentFlags().String("speech-language", defaults.GetString("speech.language"), "Speech transcription language code")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.google_client_id", "google-client-id")
	bindFlag(cmd, "auth.google_jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "genai.model", "genai-model")
	bindFlag(cmd, "speech.language", "speech-language")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	checklistService, err := checklist.NewService(checklist.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningKey),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudienceName,
		TokenTTL:      backendTokenTTL,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		GoogleVerifier: googleVerifier,
		TokenManager:   tokenManager,
		Checklist:      checklistService,
		Logger:         logger,
	}
	if err := wireAutofill(ctx, appConfig, checklistService, logger, &deps); err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// wireAutofill attaches the optional machine-assistance services. Each one
// activates only when its credentials are configured; the HTTP surface
// reports the rest as unavailable.
func wireAutofill(ctx context.Context, appConfig config.AppConfig, checklistService *checklist.Service, logger *zap.Logger, deps *server.Dependencies) error {
	if appConfig.GenAIAPIKey == "" {
		logger.Info("generative api key absent, auto-fill and suggestions disabled")
		return nil
	}

	gemini, err := autofill.NewGeminiClient(ctx, appConfig.GenAIAPIKey, appConfig.GenAIModel)
	if err != nil {
		return err
	}

	engine, err := suggest.NewEngine(suggest.EngineConfig{
		Checklist: checklistService,
		Completer: gemini,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	deps.Suggestions = engine

	if appConfig.DocumentAIConfigured() {
		credentials, err := google.FindDefaultCredentials(ctx, documentAIScope)
		if err != nil {
			return err
		}
		extractor, err := autofill.NewDocumentClient(autofill.DocumentClientConfig{
			ProjectID:   appConfig.DocAIProjectID,
			Location:    appConfig.DocAILocation,
			ProcessorID: appConfig.DocAIProcessorID,
			TokenSource: func(context.Context) (string, error) {
				token, err := credentials.TokenSource.Token()
				if err != nil {
					return "", err
				}
				return token.AccessToken, nil
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		pipeline, err := autofill.NewDocumentPipeline(autofill.DocumentPipelineConfig{
			Checklist:     checklistService,
			Extractor:     extractor,
			Generator:     gemini,
			AutoCheckUser: checklist.UserID(appConfig.AutoCheckUserID),
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		deps.Documents = pipeline
	} else {
		logger.Info("document ai processor not configured, document auto-fill disabled")
	}

	if appConfig.SpeechAPIKey != "" {
		speech, err := autofill.NewSpeechClient(autofill.SpeechClientConfig{
			APIKey:       appConfig.SpeechAPIKey,
			LanguageCode: appConfig.SpeechLanguage,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		registry := autofill.NewSessionRegistry(nil, nil)
		voice, err := autofill.NewVoiceService(autofill.VoiceServiceConfig{
			Checklist: checklistService,
			Registry:  registry,
			Speech:    speech,
			Generator: gemini,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		deps.Voice = voice
		deps.VoiceSessions = registry
	} else {
		logger.Info("speech api key absent, voice capture disabled")
	}

	return nil
}
