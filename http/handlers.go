package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pythonquest/auth"
	"pythonquest/game"
	"pythonquest/store"
	"pythonquest/ws"
)

func newUpgrader(policy OriginPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || sameOrigin(r, origin) || policy.Allows(origin)
		},
	}
}

const maxBodyBytes = 1 << 16

type Handlers struct {
	authService *auth.Service
	lobby       *game.Lobby
	engine      *game.Engine
	wsManager   *ws.Manager
	store       store.Store
	logger      *zap.Logger
	upgrader    *websocket.Upgrader
}

func NewHandlers(authService *auth.Service, lobby *game.Lobby, engine *game.Engine, wsManager *ws.Manager, store store.Store, logger *zap.Logger, origins OriginPolicy) *Handlers {
	return &Handlers{
		authService: authService,
		lobby:       lobby,
		engine:      engine,
		wsManager:   wsManager,
		store:       store,
		logger:      logger,
		upgrader:    newUpgrader(origins),
	}
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Success: status < 400, Message: message})
}

func statusFor(kind game.Kind) int {
	switch kind {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindForbidden:
		return http.StatusForbidden
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a game error to its status. Internal causes are logged and
// never sent to the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ge *game.Error
	if !errors.As(err, &ge) {
		ge = &game.Error{Kind: game.KindInternal, Message: "Internal server error", Cause: err}
	}
	if ge.Kind == game.KindInternal {
		userID, _ := GetUserIDFromContext(r.Context())
		h.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int64("user_id", userID), zap.Error(err))
	}
	writeMessage(w, statusFor(ge.Kind), ge.Message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func pathGameID(r *http.Request) (int64, bool) {
	gameID, err := strconv.ParseInt(mux.Vars(r)["gameId"], 10, 64)
	return gameID, err == nil && gameID > 0
}

type userView struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

func toUserView(u *store.User) userView {
	return userView{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt, LastLogin: u.LastLogin}
}

type sessionResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    userView `json:"user"`
}

// Auth handlers
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrInvalidPassword), errors.Is(err, auth.ErrUserExists):
			writeMessage(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("register failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	sessions := h.authService.GetSessionManager()
	token, err := sessions.Issue(user.ID, user.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	sessions.SetSessionCookie(w, token)

	h.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	writeJSON(w, http.StatusCreated, sessionResponse{Success: true, Message: "User registered successfully", Token: token, User: toUserView(user)})
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	login := req.Username
	if login == "" {
		login = req.Email
	}

	token, user, err := h.authService.Login(r.Context(), login, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		} else {
			h.logger.Error("login failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	h.authService.GetSessionManager().SetSessionCookie(w, token)
	writeJSON(w, http.StatusOK, sessionResponse{Success: true, Message: "Login successful", Token: token, User: toUserView(user)})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		h.authService.Logout(token)
	}
	h.authService.GetSessionManager().ClearSessionCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	user, err := h.authService.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool     `json:"success"`
		User    userView `json:"user"`
	}{true, toUserView(user)})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		writeMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// HandleWebSocket upgrades an authenticated request. The client declares its
// game with a join-game message.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	h.wsManager.HandleConnection(conn, userID, GetUsernameFromContext(r.Context()))
}
