package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"pythonquest/game"
)

const qrSize = 320

// RoomQR renders the printable QR code for a board room as a PNG.
func (h *Handlers) RoomQR(w http.ResponseWriter, r *http.Request) {
	room, err := strconv.Atoi(mux.Vars(r)["room"])
	if err != nil || room < game.FirstRoom || room > game.TerminalRoom {
		writeMessage(w, http.StatusBadRequest, game.ErrInvalidRoom.Message)
		return
	}

	png, err := qrcode.Encode(game.RoomToken(room), qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("qr generation failed", zap.Int("room", room), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "QR generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(png)
}
