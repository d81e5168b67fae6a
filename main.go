package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"soulhub/internal/auth"
	"soulhub/internal/db"
	"soulhub/internal/handlers"
	mw "soulhub/internal/middleware"
)

func main() {
	// Load .env if present; explicit env vars always win.
	godotenv.Load()

	port := getEnv("PORT", "8080")
	dataDir := getEnv("DATA_DIR", "./data")

	// Refuse to start with a missing or default JWT secret.
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" ||
		jwtSecret == "change-this-secret-in-production" ||
		jwtSecret == "change-me-use-a-long-random-string" {
		log.Fatal("FATAL: JWT_SECRET is not set or is using the insecure default value.\n" +
			"Generate one with:  openssl rand -hex 32\n" +
			"Then set it in your environment or .env file before starting soulhub.")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatal("Failed to create data directory:", err)
	}

	database, err := db.Init(dataDir + "/soulhub.db")
	if err != nil {
		log.Fatal("Failed to init database:", err)
	}
	defer database.Close()

	authSvc := auth.New(jwtSecret)
	hub := handlers.NewHub(getEnv("ALLOWED_ORIGIN", ""))
	go hub.Run()

	// Periodically expire chess invitations nobody answered.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			n, err := database.ExpireStaleInvitations(1 * time.Hour)
			if err != nil {
				log.Printf("invitation sweep error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expired %d stale chess invitations", n)
			}
		}
	}()

	h := handlers.New(database, authSvc, hub, nil)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.CleanPath)

	// Per-IP rate limiter for auth endpoints (10 req/min, burst 5).
	authLimiter := newIPRateLimiter(rate.Every(time.Minute/10), 5)

	// Public API
	r.With(authLimiter).Post("/api/auth/login", h.Login)
	r.With(authLimiter).Post("/api/auth/register", h.Register)
	r.Post("/api/auth/logout", h.Logout)

	// Authenticated API
	r.Group(func(r chi.Router) {
		r.Use(mw.Auth(authSvc))

		r.Get("/ws", h.WebSocket)

		r.Get("/api/me", h.GetMe)
		r.Put("/api/me", h.UpdateMe)

		r.Get("/api/presence", h.Presence)

		r.Get("/api/friends", h.ListFriendsHTTP)
		r.Post("/api/friends/{userId}", h.AddFriend)
		r.Post("/api/friends/{userId}/accept", h.AcceptFriend)

		r.Get("/api/notifications", h.ListNotifications)
		r.Put("/api/notifications/read-all", h.MarkAllNotificationsRead)
		r.Put("/api/notifications/{id}/read", h.MarkNotificationRead)
		r.Delete("/api/notifications/{id}", h.DeleteNotification)

		r.Get("/api/chats", h.ListChats)
		r.Post("/api/chats", h.StartChat)
		r.Get("/api/chats/{id}/messages", h.GetChatMessages)

		r.Post("/api/contents", h.CreateContent)
		r.Post("/api/reactions", h.React)

		r.Get("/api/chambers", h.ListChambers)
		r.Post("/api/chambers", h.CreateChamber)
		r.Get("/api/chambers/{id}", h.GetChamber)
		r.Put("/api/chambers/{id}", h.UpdateChamber)
		r.Delete("/api/chambers/{id}", h.DeleteChamber)
		r.Post("/api/chambers/{id}/join", h.JoinChamber)
		r.Post("/api/chambers/{id}/leave", h.LeaveChamber)
		r.Get("/api/chambers/{id}/messages", h.GetChamberMessages)
		r.Get("/api/chambers/{id}/requests", h.ListJoinRequests)
		r.Post("/api/chambers/{id}/requests/{requestId}", h.ResolveJoinRequest)
		r.Post("/api/chambers/{id}/members", h.AddChamberMembers)
		r.Delete("/api/chambers/{id}/members/{userId}", h.RemoveChamberMemberHTTP)
		r.Post("/api/chambers/{id}/members/{userId}/promote", h.PromoteModerator)
	})

	log.Printf("soulhub running at http://localhost:%s", port)
	log.Fatal(http.ListenAndServe(":"+port, r))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- Per-IP rate limiter ---

type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newIPRateLimiter(r rate.Limit, b int) func(http.Handler) http.Handler {
	rl := &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if h, _, err := net.SplitHostPort(ip); err == nil {
				ip = h
			}
			if !rl.get(ip).Allow() {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *ipRateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.limiters[ip]; ok {
		return l
	}
	l := rate.NewLimiter(rl.r, rl.b)
	rl.limiters[ip] = l
	return l
}
