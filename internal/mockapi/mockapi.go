// Package mockapi is a stand-in for the CEP lookup service, for local runs
// and tests. It serves the same routes and response shapes.
package mockapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Mode selects how the mock treats hyphenated codes.
type Mode string

const (
	// ModeNormalize strips hyphens before the lookup, like the real service.
	ModeNormalize Mode = "normalize"

	// ModeStrict looks codes up verbatim, so hyphenated codes are not found.
	ModeStrict Mode = "strict"

	// ModeFailHyphen answers 500 to every hyphenated code.
	ModeFailHyphen Mode = "fail-hyphen"
)

// ParseMode validates a mode name. An empty name means ModeNormalize.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeNormalize, nil
	case ModeNormalize, ModeStrict, ModeFailHyphen:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (normalize, strict or fail-hyphen)", s)
	}
}

// Record is an address as returned by GET /cep/{cep}.
type Record struct {
	CEP         string `json:"cep"`
	Logradouro  string `json:"logradouro"`
	Complemento string `json:"complemento,omitempty"`
	Bairro      string `json:"bairro,omitempty"`
	Cidade      string `json:"cidade,omitempty"`
	UF          string `json:"uf,omitempty"`
	CodigoIBGE  string `json:"codigo_ibge,omitempty"`
}

// DefaultRecords returns the records served when Options.Records is nil.
func DefaultRecords() map[string]Record {
	return map[string]Record{
		"01310100": {
			CEP:         "01310100",
			Logradouro:  "Avenida Paulista",
			Complemento: "de 612 a 1510 - lado par",
			Bairro:      "Bela Vista",
			Cidade:      "São Paulo",
			UF:          "SP",
			CodigoIBGE:  "3550308",
		},
	}
}

// ServedFrom is the X-Served-From header value on lookup responses.
const ServedFrom = "Brasil CEP API"

// Options configures the mock.
type Options struct {
	Mode    Mode
	Latency time.Duration
	Records map[string]Record
	Version string
	Logger  *zap.Logger

	// Metrics adds request metrics and GET /metrics.
	Metrics bool
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the mock service.
type Server struct {
	*echo.Echo

	opts    Options
	lookups atomic.Int64
}

// New builds the mock service.
func New(opts Options) *Server {
	if opts.Mode == "" {
		opts.Mode = ModeNormalize
	}
	if opts.Records == nil {
		opts.Records = DefaultRecords()
	}
	if opts.Version == "" {
		opts.Version = "mock"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{Echo: echo.New(), opts: opts}
	s.HideBanner = true
	s.HidePort = true

	s.Pre(middleware.RemoveTrailingSlash())
	s.Use(middleware.Recover())
	s.Use(s.logRequests)

	if opts.Metrics {
		registry := prometheus.NewRegistry()
		s.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "cepmock",
			Registerer: registry,
		}))
		s.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: registry}))
	}

	s.GET("/cep/:cep", s.findZipcode)
	s.GET("/healthcheck", s.health)

	return s
}

// Lookups returns how many lookups were served.
func (s *Server) Lookups() int64 {
	return s.lookups.Load()
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.opts.Logger.Debug("request",
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", c.Response().Status),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}

func (s *Server) findZipcode(c echo.Context) error {
	s.lookups.Add(1)

	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-c.Request().Context().Done():
			return nil
		}
	}

	raw := c.Param("cep")
	hyphenated := strings.Contains(raw, "-")

	code := raw
	switch s.opts.Mode {
	case ModeNormalize:
		code = strings.ReplaceAll(raw, "-", "")
	case ModeFailHyphen:
		if hyphenated {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Erro ao buscar CEP"})
		}
	}

	if code == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "CEP não fornecido"})
	}

	c.Response().Header().Set("X-Served-From", ServedFrom)

	record, ok := s.opts.Records[code]
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "CEP não encontrado"})
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
	})
}
