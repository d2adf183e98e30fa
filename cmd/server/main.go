package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"findout-affiliate/internal/config"
	"findout-affiliate/internal/handler"
	"findout-affiliate/internal/middleware"
	"findout-affiliate/internal/model"
	"findout-affiliate/internal/partner"
	"findout-affiliate/internal/shortcode"
	"findout-affiliate/internal/store"
	"findout-affiliate/internal/tracker"
	"findout-affiliate/pkg/database"
	auth "findout-affiliate/pkg/jwt"
	"findout-affiliate/pkg/logger"
	"findout-affiliate/pkg/redis"

	"github.com/gin-gonic/gin"
	redisClient "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("配置加载失败: %v", err))
	}

	logger.InitLogger(cfg.Log)
	defer func() {
		_ = logger.Logger.Sync()
	}()
	sugaredLogger := zap.S()

	db, err := database.Open(cfg.Database)
	if err != nil {
		sugaredLogger.Fatalf("数据库初始化失败: %v", err)
	}
	sugaredLogger.Info("✅ 数据库连接成功")

	var rdb *redisClient.Client
	if cfg.Cache.Host != "" {
		rdb, err = redis.NewClient(cfg.Cache)
		if err != nil {
			sugaredLogger.Warnf("缓存连接失败，使用内存会话存储: %v", err)
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					sugaredLogger.Errorf("关闭 Redis 连接失败: %v", err)
				}
			}()
			sugaredLogger.Info("✅ 缓存连接成功")
		}
	}

	var sessionStore store.SessionStore = store.NewMemorySessionStore()
	if rdb != nil {
		sessionStore = store.NewRedisSessionStore(rdb, "findout:session:")
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Tracking.TimeoutMillis) * time.Millisecond}
	ledger := store.NewGormStore(db)
	root := tracker.New(tracker.Options{
		Directory:  partner.NewDirectory(cfg.Partners, partner.MatchMode(cfg.Tracking.MatchMode)),
		Ledger:     ledger,
		Analytics:  ledger,
		Session:    sessionStore,
		IPResolver: tracker.NewHTTPIPResolver(httpClient, cfg.Tracking.IPLookupURL),
		Beacon:     tracker.NewHTTPBeacon(httpClient, cfg.Tracking.BeaconURL, sugaredLogger),
		Logger:     sugaredLogger,
		SessionTTL: time.Duration(cfg.Tracking.SessionTTLMinutes) * time.Minute,
	})
	sessions := tracker.NewSessions(root, 0)
	sugaredLogger.Infof("✅ 追踪器初始化成功, 合作商 %d 个, 匹配方式 %s",
		len(root.Directory().Partners()), root.Directory().Mode())

	shortcodeGenerator := shortcode.NewGenerator(db, sugaredLogger)
	shortcodeGenerator.Start()
	defer shortcodeGenerator.Stop()
	sugaredLogger.Info("✅ 短码生成器已启动")

	tokenManager := auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.ExpirationHours)

	if err := createAdminUser(db); err != nil {
		sugaredLogger.Errorf("创建管理员失败: %v", err)
	}

	if cfg.App.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.GinZapRecovery(logger.Logger, true))
	router.Use(middleware.GinZapLogger(logger.Logger))
	router.Use(middleware.RateLimit(rdb, &cfg.RateLimit))

	affiliateHandler := handler.NewAffiliateHandler(db, rdb, sessions, shortcodeGenerator,
		cfg.App.BaseURL, time.Duration(cfg.Tracking.LinkCacheHours)*time.Hour)
	authHandler := handler.NewAuthHandler(db, tokenManager, sessions)

	registerRoutes(router, affiliateHandler, authHandler,
		middleware.AuthMiddleware(tokenManager), middleware.OptionalAuth(tokenManager), middleware.AdminMiddleware())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		sugaredLogger.Infof("🚀 服务启动成功, 访问 http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugaredLogger.Fatalf("服务启动失败: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugaredLogger.Errorf("服务关闭失败: %v", err)
		return
	}
	sugaredLogger.Info("服务已停止")
}

func registerRoutes(
	router *gin.Engine,
	affiliateHandler *handler.AffiliateHandler,
	authHandler *handler.AuthHandler,
	authMiddleware, optionalAuth, adminMiddleware gin.HandlerFunc,
) {
	router.GET("/health", affiliateHandler.HealthCheck)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	public := router.Group("")
	public.Use(optionalAuth)
	{
		public.GET("/go", affiliateHandler.RedirectToAffiliate)
		public.GET("/s/:code", affiliateHandler.RedirectShortLink)
		public.GET("/api/partners", affiliateHandler.ListPartners)
		public.GET("/api/partners/detect", affiliateHandler.DetectBrand)
		public.POST("/api/affiliate-url", affiliateHandler.GenerateAffiliateURL)
		public.POST("/api/clicks", affiliateHandler.TrackClick)
		public.GET("/api/session/clicks", affiliateHandler.SessionClicks)
	}

	api := router.Group("/api")
	api.Use(authMiddleware)
	{
		api.GET("/me", authHandler.GetCurrentUser)
		api.POST("/shorten", affiliateHandler.CreateShortLink)
		api.GET("/links", affiliateHandler.GetMyLinks)
		api.GET("/analytics/clicks", affiliateHandler.ClickAnalytics)
		api.GET("/earnings", affiliateHandler.UserEarnings)
	}

	admin := api.Group("/admin")
	admin.Use(adminMiddleware)
	{
		admin.POST("/conversions", affiliateHandler.TrackConversion)
		admin.POST("/payouts", affiliateHandler.RecordPayout)
		admin.PUT("/links/:code", affiliateHandler.ToggleLink)
		admin.DELETE("/links/:code", affiliateHandler.DeleteLink)
	}
}

func createAdminUser(db *gorm.DB) error {
	var existing model.User
	if err := db.Where("username = ?", "admin").First(&existing).Error; err == nil {
		return nil
	}

	admin := model.User{Username: "admin", Email: "admin@findout.com", Role: model.RoleAdmin, IsActive: true}
	if err := admin.SetPassword("admin"); err != nil {
		return err
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	zap.S().Infow("✅ 默认管理员创建成功", "username", "admin")
	return nil
}
