package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/LovationAdmin/fleet-api/models"
	"github.com/LovationAdmin/fleet-api/services"
	"github.com/LovationAdmin/fleet-api/utils"

	"github.com/gin-gonic/gin"
)

const maxRelayBody = 1 << 20

// EmailHandler serves the report endpoints by relaying to the configured
// email transport.
type EmailHandler struct {
	Transport services.EmailTransport
	// Recipient is only used for logging; transports hold the real address.
	Recipient string
}

func (h *EmailHandler) Relay(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBody))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.RelayResponse{Error: "Failed to read request body"})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var req models.RelayRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusInternalServerError, models.RelayResponse{Error: "Invalid JSON body: " + err.Error()})
		return
	}

	msg := models.EmailMessage{
		Subject:  req.Subject,
		Content:  req.Content,
		Vehicles: req.Vehicles,
		Kind:     req.Kind,
	}
	if msg.Subject == "" {
		msg.Subject = "Sistema Vehicular"
	}
	if msg.Content == "" {
		msg.Content = req.Message
	}
	if msg.Kind == "" {
		msg.Kind = "Reporte"
	}

	log.Printf("🔄 Relaying %s via %s", c.Request.URL.Path, h.Transport.Name())
	err = services.Deliver(c.Request.Context(), h.Transport, msg)
	utils.LogEmailRelay(h.Transport.Name(), h.Recipient, err == nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.RelayResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.RelayResponse{Success: true, Message: "Email enviado correctamente"})
}
