package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/desertthunder/pihome/internal/agent"
	"github.com/desertthunder/pihome/internal/shared"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// deviceHeartbeat authenticates the device with HTTP basic auth (client id, client secret).
func (s *Server) deviceHeartbeat(w http.ResponseWriter, r *http.Request) {
	clientID, secret, ok := r.BasicAuth()
	if !ok || clientID == "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="pihome-device"`)
		writeError(w, shared.Unauthorized("Device credentials are required"))
		return
	}

	device, err := s.deps.Services.Devices.AuthenticateDevice(r.Context(), clientID, secret)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.deps.Services.DeviceStatus.ReceiveDeviceHeartbeat(r.Context(), device.ID); err != nil {
		writeError(w, err)
		return
	}

	status, err := s.deps.Services.DeviceStatus.GetDeviceStatus(r.Context(), device.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) processMessage(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	reply, err := s.deps.Agent.ProcessMessage(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type sendMessageRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, shared.BadRequest("User id is required"))
		return
	}

	exchange, err := s.deps.ChatAgent.Send(r.Context(), r.PathValue("id"), req.UserID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exchange)
}

// listMessages pages newest first with ?limit= and ?skip=.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		writeError(w, err)
		return
	}

	messages, err := s.deps.Services.Chats.GetChatMessages(r.Context(), r.PathValue("id"), limit, skip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, shared.BadRequest("Invalid " + key)
	}
	return n, nil
}
