package http

import (
	"net/http"

	"pythonquest/game"
)

// Lobby handlers
func (h *Handlers) ListGames(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	games, err := h.lobby.ListUserGames(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if games == nil {
		games = []*game.UserGame{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool             `json:"success"`
		Games   []*game.UserGame `json:"games"`
	}{true, games})
}

func (h *Handlers) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		MaxPlayers int    `json:"maxPlayers"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.lobby.CreateGame(r.Context(), userID, req.Name, req.MaxPlayers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*game.CreateResult
	}{true, "Game created successfully", result})
}

func (h *Handlers) JoinGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JoinCode string `json:"joinCode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.lobby.JoinGame(r.Context(), userID, req.JoinCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*game.JoinResult
	}{true, "Joined game successfully", result})
}

func (h *Handlers) StartGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.engine.StartGame(r.Context(), userID, gameID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*game.StartResult
	}{true, "Game started successfully", result})
}

func (h *Handlers) LeaveGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	if err := h.lobby.LeaveGame(r.Context(), gameID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Left game successfully")
}

func (h *Handlers) DeleteGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	if err := h.lobby.DeleteGame(r.Context(), gameID, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Game deleted successfully")
}

// Gameplay handlers
func (h *Handlers) RollDice(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.engine.RollDice(r.Context(), gameID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*game.RollResult
	}{true, result})
}

func (h *Handlers) ScanQR(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	var req struct {
		QRText string `json:"qrText"`
		QRCode string `json:"qrCode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	text := req.QRText
	if text == "" {
		text = req.QRCode
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.engine.ScanQR(r.Context(), gameID, userID, text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*game.ScanResult
	}{true, result})
}

func (h *Handlers) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}
	var req struct {
		QuestionID   int64  `json:"questionId"`
		Answer       string `json:"answer"`
		RoomPosition int    `json:"roomPosition"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	result, err := h.engine.SubmitAnswer(r.Context(), gameID, userID, req.QuestionID, req.Answer, req.RoomPosition)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*game.AnswerOutcome
	}{true, result})
}

func (h *Handlers) GameState(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	state, err := h.engine.GetGameState(r.Context(), gameID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	online := h.wsManager.Online(gameID)
	if online == nil {
		online = []int64{}
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*game.GameState
		Online []int64 `json:"online"`
	}{true, state, online})
}

func (h *Handlers) GameStats(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid game ID")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	stats, err := h.engine.GetGameStats(r.Context(), gameID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*game.GameStats
	}{true, stats})
}
