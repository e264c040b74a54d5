package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"logbook.org/internal/accounts"
	"logbook.org/internal/auth"
	"logbook.org/internal/config"
	"logbook.org/internal/httpapi"
	"logbook.org/internal/logbook"
	"logbook.org/internal/mail"
	"logbook.org/internal/migrate"
	"logbook.org/internal/notify"
	"logbook.org/internal/obs"
	"logbook.org/internal/store/pg"
	"logbook.org/internal/throttle"
	"logbook.org/ops/migrations"
)

const serviceName = "logbook-api"

// backends are the stores behind the services plus what readiness pings.
type backends struct {
	accounts accounts.Store
	logbook  logbook.Store
	notify   notify.Store
	ready    httpapi.ReadyProbe
	close    func() error
}

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	log := obs.InitLogger(cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	be, err := openBackends(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer), auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("token issuer")
	}

	limiter, closeLimiter := loginLimiter(ctx, cfg)
	acc, err := accounts.NewService(be.accounts, tokens,
		accounts.WithMailer(mailer(cfg)),
		accounts.WithLimiter(limiter),
		accounts.WithSignup(cfg.AllowOrgSignup),
		accounts.WithEchoedSecrets(cfg.EchoSecrets()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("accounts service")
	}
	if cfg.EchoSecrets() {
		log.Warn().Msg("temporary secrets are returned in API responses")
	}
	inbox := notify.NewDispatcher(be.notify, nil)

	api := httpapi.New(httpapi.Options{
		Tokens:        tokens,
		Accounts:      acc,
		Logbook:       logbook.NewService(be.logbook, inbox, logbook.WithPrincipals(acc)),
		Notifications: inbox,
		Ready:         be.ready,
		Version:       cfg.Version,
		RateBurst:     cfg.RateBurst,
		RatePerSecond: cfg.RatePerSecond,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxyHeaders,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", cfg.Version).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http listen")
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("grpc listen")
		}
		gs = grpc.NewServer()
		httpapi.NewGRPCServer(be.ready).Register(gs)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc listening")
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Error().Err(err).Msg("grpc serve")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if gs != nil {
		gs.GracefulStop()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
	if err := closeLimiter(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	if err := be.close(); err != nil {
		log.Warn().Err(err).Msg("storage close")
	}
	log.Info().Msg("stopped")
}

func openBackends(ctx context.Context, cfg config.Config) (backends, error) {
	if cfg.MemoryStore {
		obs.Logger().Warn().Msg("using in-memory storage; data is lost on exit")
		acc, lb := accounts.NewInMemory(), logbook.NewInMemory()
		acc.OnDelete(lb.DeleteOwned)
		return backends{
			accounts: acc,
			logbook:  lb,
			notify:   notify.NewInMemory(),
			close:    func() error { return nil },
		}, nil
	}

	store, err := pg.Open(cfg.PGDSN, pg.PoolConfig{
		MaxOpenConns:    cfg.PGMaxOpenConns,
		MaxIdleConns:    cfg.PGMaxIdleConns,
		ConnMaxLifetime: cfg.PGConnMaxLifetime,
	})
	if err != nil {
		return backends{}, err
	}
	if cfg.MigrateOnStart {
		mgr := migrate.NewManager(store.DB(), migrations.FS, migrations.SQLDir, migrations.SeedsDir)
		if _, err := mgr.Up(ctx); err != nil {
			_ = store.Close()
			return backends{}, err
		}
	}
	return backends{
		accounts: store,
		logbook:  store,
		notify:   store,
		ready:    httpapi.ReadyProbe{DB: store},
		close:    store.Close,
	}, nil
}

// loginLimiter counts attempts in Redis when configured so every replica
// shares one budget; otherwise per process.
func loginLimiter(ctx context.Context, cfg config.Config) (accounts.Limiter, func() error) {
	if cfg.RedisAddr == "" {
		return throttle.NewLocal(cfg.LoginMaxAttempts, cfg.LoginWindow), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		obs.Logger().Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; login throttle fails open until it recovers")
	}
	return throttle.NewRedis(client, "", cfg.LoginMaxAttempts, cfg.LoginWindow), client.Close
}

func mailer(cfg config.Config) mail.Sender {
	if cfg.SMTP.Host == "" {
		return mail.LogSender{}
	}
	s, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		obs.Logger().Warn().Err(err).Msg("smtp misconfigured; credentials are logged instead of mailed")
		return mail.LogSender{}
	}
	return s
}
