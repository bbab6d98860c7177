package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/twiliowhatsapp"
	"github.com/tidwall/gjson"
)

// FieldPaths are gjson paths into a generic webhook body.
type FieldPaths struct {
	Text      string
	Name      string
	Phone     string
	Image     string
	MessageID string
}

// DefaultFieldPaths reads the InboundMessage JSON field names.
func DefaultFieldPaths() FieldPaths {
	return FieldPaths{
		Text:      "messageText",
		Name:      "subscriberName",
		Phone:     "rawPhone",
		Image:     "imageUrl",
		MessageID: "messageId",
	}
}

func (p FieldPaths) withDefaults() FieldPaths {
	d := DefaultFieldPaths()
	if p.Text == "" {
		p.Text = d.Text
	}
	if p.Name == "" {
		p.Name = d.Name
	}
	if p.Phone == "" {
		p.Phone = d.Phone
	}
	if p.Image == "" {
		p.Image = d.Image
	}
	if p.MessageID == "" {
		p.MessageID = d.MessageID
	}
	return p
}

// extract maps a JSON body to an inbound message.
func (p FieldPaths) extract(body []byte) models.InboundMessage {
	results := gjson.GetManyBytes(body, p.Text, p.Name, p.Phone, p.Image, p.MessageID)
	return models.InboundMessage{
		MessageText:    results[0].String(),
		SubscriberName: strings.TrimSpace(results[1].String()),
		RawPhone:       strings.TrimSpace(results[2].String()),
		ImageURL:       strings.TrimSpace(results[3].String()),
		MessageID:      results[4].String(),
	}
}

// messagesHandler routes one JSON InboundMessage and returns the reply.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()

	var msg models.InboundMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&msg); err != nil {
		slog.Warn("Server.messagesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.process(w, r, msg)
}

// genericWebhookHandler reads fields from an arbitrary JSON body at the configured paths.
func (s *Server) genericWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		slog.Warn("Server.genericWebhookHandler: invalid JSON body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.process(w, r, s.fields.extract(body))
}

// process runs the message through the inbound handler and writes the reply.
func (s *Server) process(w http.ResponseWriter, r *http.Request, msg models.InboundMessage) {
	reply, err := s.handler.Process(r.Context(), msg)
	writeReply(w, msg, reply, err)
}

// twilioWebhookHandler validates and queues a Twilio WhatsApp message. The
// reply is sent later through the REST API.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.twilio == nil {
		http.Error(w, "twilio not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		u := s.webhookURL
		if u == "" {
			u = requestURL(r)
		}
		if !s.validator.Validate(u, r.PostForm, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "url", u)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	if status := r.PostForm.Get("MessageStatus"); status != "" {
		slog.Debug("Server.twilioWebhookHandler: status callback acknowledged", "status", status)
		writeTwiML(w)
		return
	}

	msg, err := twiliowhatsapp.ParseWebhook(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid webhook", "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if !s.twilio.Emit(msg) {
		http.Error(w, "Busy", http.StatusServiceUnavailable)
		return
	}

	writeTwiML(w)
}

// requestURL rebuilds the public URL of r, honoring proxy headers.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// healthHandler reports liveness and the state of registered dependencies.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	checks := make(map[string]string, len(s.healthChecks))
	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			slog.Warn("Server.healthHandler: dependency unhealthy", "dependency", name, "error", err)
			checks[name] = "unavailable"
			healthData["status"] = "degraded"
		} else {
			checks[name] = "ok"
		}
	}
	if len(checks) > 0 {
		healthData["checks"] = checks
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
