package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/UkralStul/discussion-board-service/internal/api"
	"github.com/UkralStul/discussion-board-service/internal/auth"
	"github.com/UkralStul/discussion-board-service/internal/dataloader"
	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/storage"
	"github.com/UkralStul/discussion-board-service/internal/storage/inmemory"
	"github.com/UkralStul/discussion-board-service/internal/storage/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
)

const (
	defaultPort = "8080"
	tokenTTL    = 30 * time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	storageType := flag.String("storage", "in-memory", "Storage type (in-memory or postgres)")
	flag.Parse()

	var store storage.Storage
	var err error

	log.Printf("Starting server with %s storage", *storageType)
	if *storageType == "postgres" {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			log.Fatal("DATABASE_URL must be set for postgres storage")
		}
		store, err = postgres.New(dsn)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
	} else {
		memStore := inmemory.New()
		// Заполним данными для тестов
		fillWithMockData(memStore)
		store = memStore
	}

	authManager := auth.NewManager(secret, tokenTTL, store)
	handler := api.NewHandler(store, authManager)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5174", "http://localhost:3000", "http://localhost:8000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	router.Use(authManager.Middleware)

	router.Mount("/", dataloader.Middleware(store, handler.Routes()))

	log.Printf("listening on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
}

// fillWithMockData наполняет in-memory хранилище данными для ручной проверки.
func fillWithMockData(s storage.Storage) {
	ctx := context.Background()

	authManager := auth.NewManager("mock", tokenTTL, s)
	hash, err := authManager.HashPassword("password123")
	if err != nil {
		log.Fatalf("fillWithMockData: failed to hash password: %v", err)
	}

	// 1. Администратор, модератор и обычный пользователь.
	admin, err := s.CreateUser(ctx, &domain.User{
		Name: "Admin", Email: "admin@example.com", PasswordHash: hash, Role: domain.RoleAdmin,
	})
	if err != nil {
		log.Fatalf("fillWithMockData: failed to create admin: %v", err)
	}
	if _, err := s.CreateUser(ctx, &domain.User{
		Name: "Moderator", Email: "moderator@example.com", PasswordHash: hash, Role: domain.RoleModerator,
	}); err != nil {
		log.Fatalf("fillWithMockData: failed to create moderator: %v", err)
	}
	user, err := s.CreateUser(ctx, &domain.User{
		Name: "User", Email: "user@example.com", PasswordHash: hash,
	})
	if err != nil {
		log.Fatalf("fillWithMockData: failed to create user: %v", err)
	}

	// 2. Обсуждение от администратора.
	discussion, err := s.CreateDiscussion(ctx, &domain.Discussion{
		Title:   "Тестовое обсуждение",
		Content: "Здесь обсуждаем работу сервиса.",
		UserID:  admin.ID,
	})
	if err != nil {
		log.Fatalf("fillWithMockData: failed to create discussion: %v", err)
	}

	// 3. Ответ пользователя, сразу одобренный, чтобы был виден в листинге.
	response, err := s.CreateResponse(ctx, &domain.Response{
		DiscussionID: discussion.ID,
		UserID:       user.ID,
		Content:      "Согласен, сервис работает.",
		Stance:       domain.StanceAgree,
	})
	if err != nil {
		log.Fatalf("fillWithMockData: failed to create response: %v", err)
	}
	if _, err := s.SetResponseStatus(ctx, response.ID, domain.StatusApproved); err != nil {
		log.Fatalf("fillWithMockData: failed to approve response: %v", err)
	}

	log.Printf("Mock data filled successfully. Discussion ID: %s, approved response ID: %s", discussion.ID, response.ID)
}
