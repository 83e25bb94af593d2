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

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/totp"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validator"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-auth-go")

	issuer, err := token.NewIssuer(token.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("token issuer: %v (is JWT_SECRET set?)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.DB); err != nil {
		sugar.Fatalf("db migrate: %v", err)
	}

	store := repo.NewAccountRepo(db)
	guard := validator.New()
	hasher := account.BcryptHasher{Cost: 12}
	accounts := account.NewService(store, hasher, guard, sugar)
	authSvc := auth.NewService(auth.Deps{
		Store:    store,
		Accounts: accounts,
		Hasher:   hasher,
		Issuer:   issuer,
		TOTP:     totp.NewEngine(totp.ConfigFromEnv()),
		Guard:    guard,
		Logger:   sugar,
	})

	handler := router.RegisterRoutes(sugar, router.Handlers{
		Account: account.NewHandler(accounts, sugar),
		Auth:    auth.NewHandler(authSvc, sugar),
		Token:   token.NewHandler(issuer, sugar),
		Bearer:  token.NewMiddleware(issuer, sugar),
		DB:      db,
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
