package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/oapi-codegen/nullable"
	"github.com/oapi-codegen/runtime"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/yellowbus/route-tracker/internal/app/apperr"
	"github.com/yellowbus/route-tracker/internal/app/bulletin"
	"github.com/yellowbus/route-tracker/internal/app/roster"
	"github.com/yellowbus/route-tracker/internal/app/session"
	"github.com/yellowbus/route-tracker/internal/app/tracking"
	"github.com/yellowbus/route-tracker/internal/app/vehiclefeed"
	"github.com/yellowbus/route-tracker/internal/domain"
	"github.com/yellowbus/route-tracker/internal/platform/logger"
	"github.com/yellowbus/route-tracker/internal/ports/out/channel"
)

const maxBodyBytes = 64 << 10

// ServerDeps are the application services behind the HTTP surface.
type ServerDeps struct {
	Sessions *session.Authenticator
	Ingest   *tracking.Ingest
	Bulletin *bulletin.Service
	Roster   *roster.Service
	Routes   *vehiclefeed.Service
	Registry channel.Registry

	// FeedRoutes are served by the vehicle positions feed when no route is requested.
	FeedRoutes []domain.RouteID
	// AllowedOrigins for websocket upgrades. Empty means same-origin only; "*" allows any.
	AllowedOrigins []string
	Log            *slog.Logger
}

type Server struct {
	sessions *session.Authenticator
	ingest   *tracking.Ingest
	bulletin *bulletin.Service
	roster   *roster.Service
	routes   *vehiclefeed.Service
	registry channel.Registry

	feedRoutes []domain.RouteID
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	log        *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		sessions:   deps.Sessions,
		ingest:     deps.Ingest,
		bulletin:   deps.Bulletin,
		roster:     deps.Roster,
		routes:     deps.Routes,
		registry:   deps.Registry,
		feedRoutes: deps.FeedRoutes,
		upgrader:   newUpgrader(deps.AllowedOrigins),
		validate:   validator.New(),
		log:        log,
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SessionResponse struct {
	Token      string `json:"token"`
	Role       string `json:"role"`
	IdentityID string `json:"identityId"`
	RouteID    string `json:"routeId"`
}

type ProfileResponse struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	RouteID     string `json:"routeId"`
	BusNumber   string `json:"busNumber,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type MeResponse struct {
	IdentityID  string          `json:"identityId"`
	Role        string          `json:"role"`
	DisplayName string          `json:"displayName"`
	Profile     ProfileResponse `json:"profile"`
}

type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

type StatusRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type TipRequest struct {
	Text string `json:"text"`
}

type RidersResponse struct {
	Riders []ProfileResponse `json:"riders"`
}

// RouteDriverResponse carries a null driver when nobody drives the route.
type RouteDriverResponse struct {
	Driver nullable.Nullable[ProfileResponse] `json:"driver"`
}

func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	res, err := s.sessions.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{
		Token:      res.Token,
		Role:       string(res.Identity.Role),
		IdentityID: string(res.Identity.ID),
		RouteID:    string(res.Identity.RouteID()),
	})
}

func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	token, ok := TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	if err := s.sessions.SignOut(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		IdentityID:  string(identity.ID),
		Role:        string(identity.Role),
		DisplayName: identity.DisplayName(),
		Profile:     profileOf(identity),
	})
}

func (s *Server) RouteSnapshot(w http.ResponseWriter, r *http.Request) {
	route, ok := s.routeMember(w, r)
	if !ok {
		return
	}
	snap, err := s.routes.Snapshot(r.Context(), route)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) PublishLocation(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	route, ok := s.routeParam(w, r)
	if !ok {
		return
	}
	var req LocationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	loc := domain.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := s.ingest.PublishLocation(r.Context(), identity, route, loc); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) SetStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	route, ok := s.routeParam(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.ingest.SetStatus(r.Context(), identity, route, domain.Status{IsActive: *req.IsActive}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) PostTip(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	route, ok := s.routeParam(w, r)
	if !ok {
		return
	}
	if identity.IsDriver() && identity.RouteID() != "" && identity.RouteID() != route {
		s.writeAppError(w, r, apperr.Forbidden("drivers can only post tips to their own route"))
		return
	}
	var req TipRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	tip, err := s.bulletin.PostTip(r.Context(), identity, req.Text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tip)
}

func (s *Server) ListRiders(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	route, ok := s.routeParam(w, r)
	if !ok {
		return
	}
	riders, err := s.roster.RidersForDriver(r.Context(), identity, route)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := RidersResponse{Riders: make([]ProfileResponse, 0, len(riders))}
	for _, rp := range riders {
		out.Riders = append(out.Riders, profileOf(domain.NewRiderIdentity(rp)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) RouteDriver(w http.ResponseWriter, r *http.Request) {
	route, ok := s.routeMember(w, r)
	if !ok {
		return
	}
	out := RouteDriverResponse{Driver: nullable.NewNullNullable[ProfileResponse]()}
	driver, err := s.roster.DriverForRoute(r.Context(), route)
	switch {
	case err == nil:
		out.Driver = nullable.NewNullableWithValue(profileOf(domain.NewDriverIdentity(driver)))
	case errors.Is(err, domain.ErrRecordNotFound):
	default:
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// VehiclePositions serves the GTFS-Realtime feed. ?format=json renders it as protojson.
func (s *Server) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	var requested []string
	if err := runtime.BindQueryParameter("form", true, false, "route", r.URL.Query(), &requested); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid route parameter", map[string]any{"route": err.Error()})
		return
	}
	routes := s.feedRoutes
	if len(requested) > 0 {
		routes = make([]domain.RouteID, 0, len(requested))
		for _, id := range requested {
			if id != "" {
				routes = append(routes, domain.RouteID(id))
			}
		}
	}

	msg, err := s.routes.Feed(r.Context(), routes)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		b, err := protojson.Marshal(msg)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
		return
	}
	b, err := vehiclefeed.Marshal(msg)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return domain.Identity{}, false
	}
	return identity, true
}

func (s *Server) routeParam(w http.ResponseWriter, r *http.Request) (domain.RouteID, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "routeId", chi.URLParam(r, "routeId"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil || id == "" {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid routeId", nil)
		return "", false
	}
	return domain.RouteID(id), true
}

// routeMember admits drivers and riders assigned to the requested route.
func (s *Server) routeMember(w http.ResponseWriter, r *http.Request) (domain.RouteID, bool) {
	identity, ok := s.requireIdentity(w, r)
	if !ok {
		return "", false
	}
	route, ok := s.routeParam(w, r)
	if !ok {
		return "", false
	}
	switch own := identity.RouteID(); {
	case own == "":
		s.writeAppError(w, r, domain.ErrRouteUnresolved)
		return "", false
	case own != route:
		s.writeAppError(w, r, apperr.Forbidden("not assigned to this route"))
		return "", false
	}
	return route, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				details[jsonName(fe.Field())] = fe.Tag()
			}
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body", details)
			return false
		}
		s.writeAppError(w, r, err)
		return false
	}
	return true
}

// jsonName lowercases the first letter, matching the request field tags.
func jsonName(field string) string {
	if field == "" {
		return field
	}
	b := []byte(field)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

func profileOf(identity domain.Identity) ProfileResponse {
	switch {
	case identity.Driver != nil:
		p := identity.Driver
		return ProfileResponse{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			RouteID:     string(p.RouteID),
			BusNumber:   p.BusNumber,
			PhoneNumber: p.PhoneNumber,
		}
	case identity.Rider != nil:
		p := identity.Rider
		return ProfileResponse{
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			RouteID:     string(p.RouteID),
			PhoneNumber: p.PhoneNumber,
		}
	}
	return ProfileResponse{}
}
