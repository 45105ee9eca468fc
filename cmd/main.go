package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/config"
	"github.com/nzukiegan/blaiz-loan-backend/internal/repository"
	"github.com/nzukiegan/blaiz-loan-backend/internal/service"
	"github.com/nzukiegan/blaiz-loan-backend/internal/transport/rest"
	"github.com/nzukiegan/blaiz-loan-backend/internal/transport/websocket"
	"github.com/nzukiegan/blaiz-loan-backend/pkg/database/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()

	db := mustInitPostgres(cfg.Postgres)
	defer postgres.Close(db)

	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema init error: %v", err)
	}

	redisClient := mustInitRedis(cfg.Redis)
	defer redisClient.Close()

	wsHub := websocket.NewHub()
	go wsHub.Run(ctx)
	alerts := clients.NewAlertClient(wsHub)

	// Register storage: local disk by default, S3 when configured.
	var exportStorage service.ExportStorage
	var localStorage *clients.StorageClient
	filesDir := ""
	if cfg.Storage.Backend == "s3" {
		s3Client, err := clients.NewS3Client(ctx, clients.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Bucket:          cfg.Storage.S3.Bucket,
			UseSSL:          cfg.Storage.S3.UseSSL,
			Region:          cfg.Storage.S3.Region,
			Prefix:          cfg.Storage.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("s3 init error: %v", err)
		}
		exportStorage = s3Client
	} else {
		var err error
		localStorage, err = clients.NewLocalStorage(cfg.Storage.ExportDir, cfg.Storage.FilesPublicPrefix, cfg.Storage.ExternalURL)
		if err != nil {
			log.Fatalf("storage init error: %v", err)
		}
		exportStorage = localStorage
		filesDir = localStorage.BaseDir
	}

	mpesaClient := clients.NewMpesaClient(clients.MpesaConfig{
		BaseURL:        cfg.Mpesa.BaseURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		PassKey:        cfg.Mpesa.PassKey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
	})
	smsClient := clients.NewSMSClient(clients.SMSConfig{
		APIURL:    cfg.SMS.APIURL,
		APIKey:    cfg.SMS.APIKey,
		PartnerID: cfg.SMS.PartnerID,
		ShortCode: cfg.SMS.ShortCode,
	})

	ledgerRepo := repository.NewLedgerRepository(db)
	clientRepo := repository.NewClientRepository(db)

	anomalyLog := service.NewAnomalyLog(redisClient, alerts)
	engine := service.NewEngine(ledgerRepo, clientRepo, smsClient, mpesaClient, anomalyLog)
	loanSvc := service.NewLoanService(ledgerRepo, smsClient)
	paymentSvc := service.NewPaymentService(ledgerRepo, mpesaClient, smsClient)
	exportSvc := service.NewExportService(ledgerRepo, redisClient, exportStorage, alerts)

	scheduler := service.NewScheduler(ledgerRepo, smsClient, redisClient, cfg.SchedulerHour)
	go scheduler.Run(ctx)

	handler := rest.NewHandler(loanSvc, paymentSvc, engine, anomalyLog, exportSvc, clientRepo, wsHub, filesDir)
	router := handler.InitRouter()

	corsHandler := withCORS(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run HTTP server in goroutine so we can listen for shutdown signals
	srvErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	// background cleaner for locally stored register files
	if localStorage != nil {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := localStorage.CleanupOlderThan(30 * time.Minute); err != nil {
						log.Printf("storage cleanup error: %v", err)
					}
				}
			}
		}()
	}

	// Listen for OS shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Shutdown signal received: %v", sig)

		// Give server up to 10 seconds to finish ongoing requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server Shutdown error: %v", err)
		}

		// Cancel top-level context so background services stop
		cancel()

		postgres.Close(db)
		redisClient.Close()

		log.Println("Shutdown complete")
	}
}

func mustInitPostgres(cfg config.PostgresConfig) *sql.DB {
	db, err := postgres.NewPostgresConnection(postgres.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
		Password: cfg.Password,
	})
	if err != nil {
		log.Fatalf("postgres init error: %v", err)
	}
	return db
}

func mustInitRedis(cfg config.RedisConfig) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	return client
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
