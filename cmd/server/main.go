package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confsfu/internal/admission"
	"confsfu/internal/auth"
	"confsfu/internal/breakout"
	httphandlers "confsfu/internal/handlers/http"
	"confsfu/internal/infrastructure/middleware"
	"confsfu/internal/infrastructure/monitoring"
	webrtcinfra "confsfu/internal/infrastructure/webrtc"
	"confsfu/internal/room"
	"confsfu/internal/scheduler"
	"confsfu/internal/signaling"
	"confsfu/internal/store"
	"confsfu/pkg/config"
	"confsfu/pkg/distributed"
	"confsfu/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}

	users := store.NewUserRepo(db)
	meetings := store.NewMeetingRepo(db)
	participants := store.NewParticipantRepo(db)
	breakouts := store.NewBreakoutRepo(db)
	questions := store.NewQuestionRepo(db)
	chat := store.NewChatRepo(db)
	reminders := store.NewReminderRepo(db)
	invitations := store.NewInvitationRepo(db)

	verifier, err := auth.NewVerifier(cfg.Auth.Secret)
	if err != nil {
		log.Fatalw("failed to build auth verifier", "error", err)
	}

	var iceServers []webrtc.ICEServer
	iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}})
	if cfg.TURN.ServerURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{cfg.TURN.ServerURL}})
	}

	adapter := webrtcinfra.NewAdapter(webrtcinfra.Config{
		ListenIP:    cfg.WebRTC.ListenIP,
		AnnouncedIP: cfg.WebRTC.AnnouncedIP,
		MinPort:     cfg.WebRTC.MinPort,
		MaxPort:     cfg.WebRTC.MaxPort,
		ICEServers:  iceServers,
	}, cfg.WebRTC.NumWorkers)
	defer adapter.Close()

	rooms := room.NewRegistry(adapter)

	server := signaling.NewServer(signaling.Dependencies{
		Auth:         verifier,
		Rooms:        rooms,
		Meetings:     meetings,
		Participants: participants,
		Users:        users,
		Chat:         chat,
		Questions:    questions,
		Invitations:  invitations,
		ListenIP:     cfg.WebRTC.ListenIP,
		AnnouncedIP:  cfg.WebRTC.AnnouncedIP,
	}, log)

	// StateMachine/Coordinator need the Server as their broadcaster and
	// connection directory; Server needs them as its Admission/Breakouts
	// dependency. SetAdmission/SetBreakouts complete the cycle.
	stateMachine := admission.NewStateMachine(users, meetings, participants, rooms, server, server, log)
	coordinator := breakout.NewCoordinator(meetings, participants, breakouts, rooms, server, server, log)
	server.SetAdmission(stateMachine)
	server.SetBreakouts(coordinator)

	var lock *distributed.DistributedLock
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalw("invalid REDIS_URL", "error", err)
		}
		redisClient = redis.NewClient(opt)
		lock = distributed.NewDistributedLock(redisClient, "confsfu:scheduler", 90*time.Second)
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddRepositoryCheck(meetings, 30*time.Second, 5*time.Second)
	if redisClient != nil {
		healthChecker.AddRedisCheck(redisClient, 30*time.Second, 5*time.Second)
	}
	healthCtx, stopHealthChecks := context.WithCancel(context.Background())
	go healthChecker.StartBackgroundChecks(healthCtx)

	mailer := scheduler.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
	sched := scheduler.NewScheduler(scheduler.Dependencies{
		Reminders:    reminders,
		Meetings:     meetings,
		Participants: participants,
		Users:        users,
		Conns:        server,
		Broadcaster:  server,
		Mailer:       mailer,
		Lock:         lock,
	}, log)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go sched.Run(schedulerCtx)

	// Registers the collectors with the default Prometheus registry;
	// promhttp.Handler below serves them. The returned collector is not
	// kept and nothing records into it, so the metrics keep their zero values.
	monitoring.NewPrometheusCollector()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))

	systemHandler := httphandlers.NewSystemHandler(rooms, healthChecker, cfg.WebRTC.NumWorkers, cfg.TURN.Secret, cfg.TURN.ServerURL)
	systemHandler.SetupRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.HandleFunc("/ws", server.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting server", "addr", httpServer.Addr, "uptime_since", startTime)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	stopScheduler()
	stopHealthChecks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during http shutdown", "error", err)
		_ = httpServer.Close()
	}

	log.Info("server stopped")
}
