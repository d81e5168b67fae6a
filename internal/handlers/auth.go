package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"soulhub/internal/db"
)

// Only allow safe, unambiguous characters in usernames.
var validUsername = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{2,32}$`)

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"` // username or email
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	u, err := h.db.GetUserByUsername(req.Login)
	if err != nil {
		u, err = h.db.GetUserByEmail(req.Login)
		if err != nil {
			errResp(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	if !h.auth.CheckPassword(u.PasswordHash, req.Password) {
		errResp(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.auth.GenerateToken(u.ID, u.Username, u.Email)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	setTokenCookie(w, r, token)
	ok(w, map[string]interface{}{"user": u, "token": token})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp(w, http.StatusBadRequest, "all fields required")
		return
	}
	if len(req.Password) < 8 {
		errResp(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if !validUsername.MatchString(req.Username) {
		errResp(w, http.StatusBadRequest, "username may only contain letters, numbers, _ . -")
		return
	}

	hash, err := h.auth.HashPassword(req.Password)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	u, err := h.db.CreateUser(req.Username, req.Email, hash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			errResp(w, http.StatusConflict, "username or email already taken")
			return
		}
		errResp(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := h.auth.GenerateToken(u.ID, u.Username, u.Email)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	setTokenCookie(w, r, token)
	created(w, map[string]interface{}{"user": u, "token": token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	isSecure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	http.SetCookie(w, &http.Cookie{
		Name:     "soulhub_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
	ok(w, map[string]string{"message": "logged out"})
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ok(w, u)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = u.Username
	} else if !validUsername.MatchString(username) {
		errResp(w, http.StatusBadRequest, "username may only contain letters, numbers, _ . -")
		return
	}

	if err := h.db.UpdateUser(u.ID, username, req.Avatar); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	updated, _ := h.db.GetUserByID(u.ID)
	ok(w, updated)
}

func setTokenCookie(w http.ResponseWriter, r *http.Request, token string) {
	// Only set Secure when actually served over HTTPS; a hardcoded Secure
	// flag makes browsers drop the cookie on plain-HTTP dev setups.
	isSecure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	http.SetCookie(w, &http.Cookie{
		Name:     "soulhub_token",
		Value:    token,
		Path:     "/",
		MaxAge:   30 * 24 * 3600,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- Friends ---

func (h *Handler) AddFriend(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	target := chi.URLParam(r, "userId")
	if target == u.ID {
		errResp(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}
	friend, err := h.db.GetUserByID(target)
	if err != nil {
		errResp(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.db.AddFriend(u.ID, friend.ID); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to send friend request")
		return
	}
	h.dispatchNotification(friend.ID, &u.ID, nil, u.Username+" sent you a friend request", "friend_request", "{}")
	ok(w, map[string]string{"status": "pending"})
}

func (h *Handler) AcceptFriend(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	requester := chi.URLParam(r, "userId")
	if err := h.db.AcceptFriend(u.ID, requester); err != nil {
		errResp(w, http.StatusInternalServerError, "failed to accept friend request")
		return
	}
	h.dispatchNotification(requester, &u.ID, nil, u.Username+" accepted your friend request", "friend_accepted", "{}")

	// Both sides learn immediately whether the other is already online.
	if h.hub.IsOnline(requester) {
		h.hub.SendToUser(u.ID, WSEvent{Type: "friend.online", Data: map[string]string{"user_id": requester}})
	}
	if h.hub.IsOnline(u.ID) {
		h.hub.SendToUser(requester, WSEvent{Type: "friend.online", Data: map[string]string{"user_id": u.ID}})
	}
	ok(w, map[string]string{"status": "accepted"})
}

func (h *Handler) ListFriendsHTTP(w http.ResponseWriter, r *http.Request) {
	u, err := h.currentUser(r)
	if err != nil || u == nil {
		errResp(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	friends, err := h.db.ListFriends(u.ID)
	if err != nil {
		errResp(w, http.StatusInternalServerError, "failed to list friends")
		return
	}
	if friends == nil {
		friends = []db.User{}
	}

	type friendStatus struct {
		db.User
		Online bool `json:"online"`
	}
	out := make([]friendStatus, 0, len(friends))
	for _, f := range friends {
		out = append(out, friendStatus{User: f, Online: h.hub.IsOnline(f.ID)})
	}
	ok(w, out)
}
