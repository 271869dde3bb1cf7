package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postpilot/configs"
	"github.com/maheshrc27/postpilot/internal/api/handlers"
	"github.com/maheshrc27/postpilot/internal/api/middleware"
	"github.com/maheshrc27/postpilot/internal/automation"
	job "github.com/maheshrc27/postpilot/internal/jobs"
	"github.com/maheshrc27/postpilot/internal/notify"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/publisher"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/internal/scheduler"
	"github.com/maheshrc27/postpilot/internal/service"
	"github.com/maheshrc27/postpilot/internal/storage"
	"github.com/maheshrc27/postpilot/pkg/crypto"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	vault, err := crypto.NewVault([]byte(cfg.SecretKey))
	if err != nil {
		log.Fatalf("Invalid secret key: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)
	defer inspector.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	postTargetRepo := repository.NewPostTargetRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	commentReplyRepo := repository.NewCommentReplyRepository(db)
	publishTokenRepo := repository.NewPublishTokenRepository(db)

	adapters := platform.Registry{
		"instagram": platform.NewInstagramAdapter(),
		"facebook":  platform.NewFacebookAdapter(),
		"linkedin":  platform.NewLinkedinAdapter(),
		"twitter":   platform.NewTwitterAdapter(cfg.TwitterConsumerKey, cfg.TwitterConsumerSecret),
		"tiktok":    platform.NewTiktokAdapter(),
		"youtube":   platform.NewYoutubeAdapter(),
	}
	refreshers := map[string]platform.Refresher{
		"twitter": platform.NewTwitterRefresher(cfg.TwitterClientID, cfg.TwitterClientSecret),
		"tiktok":  platform.NewTiktokRefresher(cfg.TiktokClientKey, cfg.TiktokClientSecret),
		"youtube": platform.NewYoutubeRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret),
	}

	r2Storage, err := storage.NewR2Storage(context.Background(), cfg.R2)
	if err != nil {
		log.Fatalf("Failed to set up media storage: %v", err)
	}

	pub := publisher.New(postRepo, postTargetRepo, socialAccountRepo, postMediaRepo,
		vault, adapters, refreshers, cfg.PublishClaimTTL)

	sched := scheduler.NewScheduler(client, inspector)
	notifier := notify.NewNotifier(cfg.SMTP)
	sweeper := scheduler.NewSweeper(postRepo, publishTokenRepo, userRepo, pub, notifier, cfg.FrontendURL, cfg.PublishClaimTTL, cfg.SweepLimit)
	poller := automation.NewPoller(postRepo, postTargetRepo, socialAccountRepo, commentReplyRepo, vault, adapters.CommentClients())

	postService := service.NewPostService(db, postRepo, postTargetRepo, socialAccountRepo, mediaAssetRepo, postMediaRepo, r2Storage)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	cronMiddleware := middleware.NewCronMiddleware(*cfg)

	token := handlers.NewTokenHandler(publishTokenRepo, postRepo, postTargetRepo, pub)
	app.Get("/publish/:token", token.GetPost)
	app.Patch("/publish/:token/captions", token.UpdateCaptions)
	app.Post("/publish/:token", token.Publish)

	cronAPI := app.Group("/cron")
	cronAPI.Use(cronMiddleware.CronMiddleware())

	cronHandler := handlers.NewCronHandler(sweeper, poller)
	cronAPI.Post("/sweep", cronHandler.Sweep)
	cronAPI.Post("/comments", cronHandler.Comments)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService, sched, pub)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/publish", post.PublishNow)
	api.Post("/posts/remove", post.RemovePost)

	account := handlers.NewAccountHandler(socialAccountRepo)
	api.Get("/accounts", account.ListAccounts)
	api.Post("/accounts/remove", account.RemoveAccount)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, vault, refreshers)

	c := cron.New()
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.AddFunc("@every 00h01m00s", func() {
		if _, err := sweeper.Run(context.Background()); err != nil {
			log.Printf("Sweep failed: %v", err)
		}
	})
	c.AddFunc("@every 00h05m00s", func() {
		if _, err := poller.Run(context.Background()); err != nil {
			log.Printf("Comment poll failed: %v", err)
		}
	})
	c.Start()

	worker := scheduler.NewWorker(pub)

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency:    10,
			RetryDelayFunc: scheduler.RetryDelay,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(scheduler.TaskTypePublishPost, worker.HandlePublishTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
