package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/krehermann/bytevm/asm"
	"github.com/krehermann/bytevm/config"
	"github.com/krehermann/bytevm/store"
	"github.com/krehermann/bytevm/types"
	"github.com/krehermann/bytevm/vm"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

const (
	formatAsm    = "asm"
	maxBodyLimit = "1M"
)

// DefaultStepLimit bounds runs when the configuration sets no step limit.
// Request bodies are untrusted and may never halt.
const DefaultStepLimit = 1 << 24

type ServerConfig struct {
	ListenerAddr string
	Logger       *zap.Logger
	// VM holds the per-run execution limits
	VM config.Config
}

type Server struct {
	ServerConfig
	programs *store.Programs
	runs     *store.MemStore[uuid.UUID, *RunRecord]
	table    *vm.Table

	echo   *echo.Echo
	logger *zap.Logger
}

func NewServer(config ServerConfig, programs *store.Programs) (*Server, error) {
	if config.Logger == nil {
		config.Logger = zap.L()
	}
	if err := config.VM.Validate(); err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}
	if config.VM.StepLimit == 0 {
		config.VM.StepLimit = DefaultStepLimit
	}
	s := &Server{
		ServerConfig: config,
		programs:     programs,
		runs:         store.NewMemStore[uuid.UUID, *RunRecord](),
		table:        vm.NewTable(),
		logger:       config.Logger.Named("api"),
	}
	s.echo = s.routes()

	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	e.POST("/programs", s.handlePostProgram)
	e.GET("/programs/:hash", s.handleGetProgram)
	e.POST("/programs/:hash/run", s.handleRunProgram)
	e.POST("/run", s.handleRun)
	e.GET("/runs/:id", s.handleGetRun)
	return e
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("api server starting",
		zap.String("addr", s.ListenerAddr))
	err := s.echo.Start(s.ListenerAddr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.runs.Close()
	return s.echo.Shutdown(ctx)
}

func errorJSON(ectx echo.Context, status int, err error) error {
	return ectx.JSON(status,
		map[string]any{
			"error": err.Error(),
		})
}

// readCode reads the request body as bytecode, or as assembly text when
// ?format=asm is set.
func readCode(ectx echo.Context) ([]byte, error) {
	body, err := io.ReadAll(ectx.Request().Body)
	if err != nil {
		return nil, err
	}
	if ectx.QueryParam("format") == formatAsm {
		body, err = asm.Assemble(string(body))
		if err != nil {
			return nil, err
		}
	}
	if len(body) == 0 {
		return nil, vm.ErrEmptyProgram
	}
	return body, nil
}

func (s *Server) lookupProgram(ectx echo.Context) (*store.Program, int, error) {
	h, err := types.HashFromHex(ectx.Param("hash"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	prog, err := s.programs.Get(h)
	if err != nil {
		return nil, http.StatusNotFound, err
	}
	return prog, http.StatusOK, nil
}

func (s *Server) handlePostProgram(ectx echo.Context) error {
	code, err := readCode(ectx)
	if err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	prog, err := s.programs.Add(code)
	if err != nil {
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}
	return ectx.JSON(http.StatusCreated,
		map[string]any{
			"hash": prog.Hash,
			"size": len(prog.Code),
		})
}

func (s *Server) handleGetProgram(ectx echo.Context) error {
	prog, status, err := s.lookupProgram(ectx)
	if err != nil {
		return errorJSON(ectx, status, err)
	}

	resp := map[string]any{
		"hash":    prog.Hash,
		"size":    len(prog.Code),
		"created": prog.Created,
	}
	instructions, err := asm.Disassemble(prog.Code)
	resp["listing"] = asm.Format(instructions)
	if err != nil {
		resp["error"] = err.Error()
	}
	return ectx.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunProgram(ectx echo.Context) error {
	prog, status, err := s.lookupProgram(ectx)
	if err != nil {
		return errorJSON(ectx, status, err)
	}
	return s.respondRun(ectx, prog.Hash, prog.Code)
}

func (s *Server) handleRun(ectx echo.Context) error {
	code, err := readCode(ectx)
	if err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	return s.respondRun(ectx, s.programs.Hash(code), code)
}

func (s *Server) respondRun(ectx echo.Context, h types.Hash, code []byte) error {
	rec, err := s.execute(ectx.Request().Context(), h, code)
	if err != nil {
		return errorJSON(ectx, http.StatusInternalServerError, err)
	}
	if rec.Error != nil {
		return ectx.JSON(http.StatusUnprocessableEntity, rec)
	}
	return ectx.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetRun(ectx echo.Context) error {
	id, err := uuid.FromString(ectx.Param("id"))
	if err != nil {
		return errorJSON(ectx, http.StatusBadRequest, err)
	}
	rec, err := s.runs.Get(id)
	if err != nil {
		return errorJSON(ectx, http.StatusNotFound, err)
	}
	return ectx.JSON(http.StatusOK, rec)
}
