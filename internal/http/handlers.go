package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-bidding/internal/apperr"
	"github.com/example/ride-bidding/internal/auth"
	"github.com/example/ride-bidding/internal/engine"
	"github.com/example/ride-bidding/internal/events"
	"github.com/example/ride-bidding/internal/models"
)

// Server exposes the engine over HTTP plus the websocket subscription
// endpoints for the fan-out hub.
type Server struct {
	engine   *engine.Service
	hub      *events.Hub
	verifier *auth.Verifier
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(eng *engine.Service, hub *events.Hub, verifier *auth.Verifier, logger *slog.Logger) *Server {
	s := &Server{engine: eng, hub: hub, verifier: verifier, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.verifier.Middleware)
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides", s.handleMyRides).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAcceptRide).Methods("PATCH")
	api.HandleFunc("/rides/{ride_id}/status", s.handleUpdateStatus).Methods("PATCH")
	api.HandleFunc("/rides/{ride_id}/offers", s.handleSubmitOffer).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/offers", s.handleListOffers).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/offers/{offer_id}/accept", s.handleAcceptOffer).Methods("PATCH")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.verifier.Middleware)
	ws.HandleFunc("/rides/{ride_id}", s.handleRideChannel)
	ws.HandleFunc("/feed", s.handleFeedChannel)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createRideRequest struct {
	Vehicle             models.Vehicle      `json:"vehicle"`
	Pickup              models.Point        `json:"pickup"`
	Drop                models.Point        `json:"drop"`
	PricingModel        models.PricingModel `json:"pricing_model"`
	ProposedPrice       float64             `json:"proposed_price"`
	SuggestedPriceRange models.PriceRange   `json:"suggested_price_range"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	ride, err := s.engine.CreateRide(r.Context(), actor.ID, engine.CreateRideInput{
		Vehicle:             req.Vehicle,
		Pickup:              req.Pickup,
		Drop:                req.Drop,
		PricingModel:        req.PricingModel,
		ProposedPrice:       req.ProposedPrice,
		SuggestedPriceRange: req.SuggestedPriceRange,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	msg := "ride created successfully"
	if ride.PricingModel == models.PricingBidding {
		msg = "ride request created, waiting for driver offers"
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg, "ride": ride})
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	ride, err := s.engine.AcceptRide(r.Context(), mux.Vars(r)["ride_id"], actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "ride accepted successfully", "ride": sanitizeFor(actor, ride)})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	var req struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Status == "" {
		writeError(w, apperr.Validation("status is required"))
		return
	}
	ride, err := s.engine.UpdateStatus(r.Context(), mux.Vars(r)["ride_id"], actor.ID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "ride status updated", "ride": sanitizeFor(actor, ride)})
}

func (s *Server) handleMyRides(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	status := models.Status(r.URL.Query().Get("status"))
	rides, err := s.engine.GetMyRides(r.Context(), actor.ID, status)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*models.Ride, len(rides))
	for i, ride := range rides {
		out[i] = sanitizeFor(actor, ride)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "rides": out})
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	var req struct {
		OfferedPrice float64 `json:"offered_price"`
		Message      string  `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	ride, err := s.engine.SubmitOffer(r.Context(), mux.Vars(r)["ride_id"], actor.ID, req.OfferedPrice, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "offer submitted successfully", "ride": sanitizeFor(actor, ride)})
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, apperr.Unauthorized("missing actor"))
		return
	}
	vars := mux.Vars(r)
	ride, err := s.engine.AcceptOffer(r.Context(), vars["ride_id"], vars["offer_id"], actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "offer accepted successfully", "ride": sanitizeFor(actor, ride)})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	listing, err := s.engine.ListOffers(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

var upgrader = websocket.Upgrader{
	// Auth happens in middleware; cross-origin subscribers are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleRideChannel(w http.ResponseWriter, r *http.Request) {
	s.subscribe(w, r, mux.Vars(r)["ride_id"])
}

func (s *Server) handleFeedChannel(w http.ResponseWriter, r *http.Request) {
	s.subscribe(w, r, events.FeedChannel)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "channel", channel, "error", err)
		return
	}
	unsubscribe := s.hub.Subscribe(channel, conn)
	// Drain the connection until the peer goes away; subscribers only
	// receive, they never send.
	go func() {
		defer unsubscribe()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// sanitizeFor hides the pickup OTP from everyone except the ride's
// customer, who reads it to the rider in person.
func sanitizeFor(actor auth.Actor, r *models.Ride) *models.Ride {
	if r.CustomerID == actor.ID {
		return r
	}
	cp := r.Clone()
	cp.OTP = ""
	return cp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"error":   string(apperr.KindOf(err)),
		"message": apperr.PublicMessage(err),
	})
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
