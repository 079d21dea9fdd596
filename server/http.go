package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/printjob"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/settings"
	"github.com/nixxel-company-limited/ql-usb-server/status"
	"go.uber.org/zap"
)

const maxBody = 1 << 20

// PrintRequest is the body of a print call. Layout fields left empty are
// taken from the settings preset named by Kind. AutoFit and Banner shadow
// the request's own flags so that an absent field keeps the preset value.
type PrintRequest struct {
	label.Request
	Kind    settings.Kind `json:"kind,omitempty"`
	AutoFit *bool         `json:"auto_fit,omitempty"`
	Banner  *bool         `json:"banner,omitempty"`
}

type StatusResponse struct {
	Available bool           `json:"available"`
	Status    *status.Report `json:"status,omitempty"`
}

type PrepareResponse struct {
	Data string `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Message types on the print websocket.
const (
	MessageTypeProgress = "progress"
	MessageTypeResult   = "result"
	MessageTypeError    = "error"
)

// WSMessage is a frame sent on the print websocket.
type WSMessage struct {
	Type     string             `json:"type"`
	Progress *printjob.Progress `json:"progress,omitempty"`
	Result   *printjob.Result   `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Handler serves the HTTP API.
type Handler struct {
	printer  Printer
	settings *settings.Store
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the API handler
func NewHandler(printer Printer, store *settings.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		printer:  printer,
		settings: store,
		upgrader: websocket.Upgrader{
			// the label designer is served from another origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("http"),
	}
}

// RegisterRoutes registers the API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/print", h.handlePrint)
	mux.HandleFunc("/api/print/prepare", h.handlePrepare)
	mux.HandleFunc("/api/print/ws", h.handlePrintWS)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/printer/reset", h.handleReset)
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "ql-usb-server",
	})
}

// handleStatus handles GET /api/status - the printer status when it can be read
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, ok := h.printer.Status(r.Context())
	h.writeJSON(w, http.StatusOK, StatusResponse{Available: ok, Status: report})
}

// handlePrint handles POST /api/print - prints one label and waits for it
func (h *Handler) handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := h.decodeRequest(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res := h.printer.Print(r.Context(), req)
	code := http.StatusOK
	if !res.Success {
		code = statusCode(res.Err)
	}
	h.writeJSON(w, code, res)
}

// handlePrepare handles POST /api/print/prepare - the encoded stream without printing
func (h *Handler) handlePrepare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := h.decodeRequest(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := h.printer.Prepare(r.Context(), req)
	if err != nil {
		h.logger.Warn("Prepare failed", zap.Error(err))
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PrepareResponse{Data: base64.StdEncoding.EncodeToString(data)})
}

// handleSettings handles GET and PATCH /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, h.settings.Get())
	case http.MethodPatch:
		var p settings.Patch
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&p); err != nil {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid settings: " + err.Error()})
			return
		}
		cur, err := h.settings.Update(p)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.logger.Info("Settings updated")
		// streams prepared under the old settings are stale
		if err := h.printer.FlushCache(r.Context()); err != nil {
			h.logger.Warn("Cache flush failed", zap.Error(err))
		}
		h.writeJSON(w, http.StatusOK, cur)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleReset handles POST /api/printer/reset - releases a failed printer
// session so the next job reconnects
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.printer.Reset(); err != nil {
		h.logger.Warn("Printer reset failed", zap.Error(err))
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handlePrintWS handles GET /api/print/ws. Each request frame starts a job;
// its progress frames and then its result are sent back.
func (h *Handler) handlePrintWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var pr PrintRequest
		if err := conn.ReadJSON(&pr); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Websocket read ended", zap.Error(err))
			}
			return
		}

		req, err := h.complete(pr)
		if err == nil {
			err = h.runJob(r, conn, req)
		}
		if err != nil {
			if werr := conn.WriteJSON(WSMessage{Type: MessageTypeError, Error: err.Error()}); werr != nil {
				h.logger.Debug("Websocket write failed", zap.Error(werr))
				return
			}
		}
	}
}

func (h *Handler) runJob(r *http.Request, conn *websocket.Conn, req label.Request) error {
	job, err := h.printer.Start(r.Context(), req)
	if err != nil {
		return err
	}
	for p := range job.Progress() {
		if p.Stage.Terminal() {
			continue
		}
		if err := conn.WriteJSON(WSMessage{Type: MessageTypeProgress, Progress: &p}); err != nil {
			h.logger.Debug("Websocket write failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	res := job.Wait()
	return conn.WriteJSON(WSMessage{Type: MessageTypeResult, Result: &res})
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (label.Request, error) {
	var pr PrintRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&pr); err != nil {
		return label.Request{}, errors.Join(qlerr.ErrSettingsInvalid, err)
	}
	return h.complete(pr)
}

func (h *Handler) complete(pr PrintRequest) (label.Request, error) {
	req, err := h.settings.Get().Complete(pr.Kind, pr.Request, settings.Toggles{AutoFit: pr.AutoFit, Banner: pr.Banner})
	if err != nil {
		return label.Request{}, err
	}
	if err := req.Validate(); err != nil {
		return label.Request{}, err
	}
	return req, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, statusCode(err), ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, qlerr.ErrSettingsInvalid), errors.Is(err, qlerr.ErrUnsupportedMedia):
		return http.StatusBadRequest
	case errors.Is(err, qlerr.ErrSessionBusy), errors.Is(err, qlerr.ErrSessionFailed):
		return http.StatusConflict
	case errors.Is(err, qlerr.ErrDeviceNotFound), errors.Is(err, qlerr.ErrDeviceOpenFailed),
		errors.Is(err, qlerr.ErrInterfaceClaimFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
