package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatd/internal/api"
	"chatd/internal/config"
	"chatd/internal/db"
	"chatd/internal/websocket"
)

func setupLogger() *log.Logger {
	return log.New(os.Stdout, "[SERVER] ", log.LstdFlags|log.Lshortfile)
}

func main() {
	logger := setupLogger()
	logger.Println("Starting server...")

	// Load configuration
	cfg := config.Load()
	logger.Printf("Listening on %s, database at %s", cfg.ServerAddress, cfg.DatabasePath)

	// Initialize database
	database, err := db.NewDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Println("Database connection established")

	// Seed an admin account on first start
	if err := seedAdmin(database, cfg); err != nil {
		logger.Fatalf("Failed to seed admin user: %v", err)
	}

	// Presence registry and message router
	hub := websocket.NewHub()
	router := websocket.NewRouter(database, hub)
	logger.Println("WebSocket hub initialized")

	// Initialize API handlers
	handlers := api.NewHandlers(database, hub, router, cfg)
	logger.Println("API handlers initialized")

	// Set up HTTP routes
	mux := http.NewServeMux()

	// Auth endpoints
	mux.HandleFunc("/api/auth/register", logRequest(logger, handlers.HandleRegister))
	mux.HandleFunc("/api/auth/login", logRequest(logger, handlers.HandleLogin))
	mux.HandleFunc("/api/auth/verify", logRequest(logger, handlers.HandleVerify))
	mux.HandleFunc("/api/auth/logout", logRequest(logger, handlers.HandleLogout))
	mux.HandleFunc("/api/me", logRequest(logger, handlers.HandleVerify))

	// Conversation endpoints
	mux.HandleFunc("/api/conversations", logRequest(logger, handlers.HandleConversations))
	mux.HandleFunc("/api/conversations/direct", logRequest(logger, handlers.HandleDirectConversation))
	mux.HandleFunc("/api/conversations/messages", logRequest(logger, handlers.HandleMessages))

	// User and settings endpoints
	mux.HandleFunc("/api/users", logRequest(logger, handlers.HandleUsers))
	mux.HandleFunc("/api/settings", logRequest(logger, handlers.HandleSettings))

	// Admin endpoints
	mux.HandleFunc("/api/admin/groups", logRequest(logger, handlers.HandleAdminGroups))
	mux.HandleFunc("/api/admin/users", logRequest(logger, handlers.HandleAdminUsers))
	mux.HandleFunc("/api/admin/registration", logRequest(logger, handlers.HandleAdminRegistration))
	mux.HandleFunc("/api/admin/clear-db", logRequest(logger, handlers.HandleAdminClearDB))

	// The WebSocket upgrade bypasses the CORS and logging middleware; it does
	// its own session authentication.
	wrappedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			handlers.HandleWebSocket(w, r)
			return
		}
		handlers.WithCORS(handlers.WithAuth(mux)).ServeHTTP(w, r)
	})

	// Start server
	server := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: wrappedHandler,
	}

	go func() {
		logger.Printf("Server starting on %s", cfg.ServerAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("Received signal: %v", sig)

	logger.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("Server shutdown error: %v", err)
	}
}

func seedAdmin(database *db.DB, cfg *config.Config) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return database.EnsureAdmin("Admin", "Root", cfg.AdminEmail, string(hash))
}

func logRequest(logger *log.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Printf("Started %s %s", r.Method, r.URL.Path)

		lrw := newLoggingResponseWriter(w)

		next.ServeHTTP(lrw, r)

		logger.Printf("Completed %s %s %d %s in %v",
			r.Method, r.URL.Path, lrw.statusCode,
			http.StatusText(lrw.statusCode),
			time.Since(start))
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{w, http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
