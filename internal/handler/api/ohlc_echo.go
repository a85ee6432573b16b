package api

import (
	"net/http"
	"time"

	models "github.com/firebird631/siis-rev/internal/domain/models"
	domrepo "github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/internal/store"
	"github.com/firebird631/siis-rev/internal/usecase"
	xhttp "github.com/firebird631/siis-rev/pkg/http"
	xlogger "github.com/firebird631/siis-rev/pkg/logger"
	xutil "github.com/firebird631/siis-rev/pkg/util"

	"github.com/labstack/echo/v4"
)

// OhlcEchoHandler exposes the ops surface: candle queries, market
// metadata, runtime subscriptions and pipeline introspection.
type OhlcEchoHandler struct {
	logger   *xlogger.Logger
	candles  *usecase.CandlesUseCase
	ingestor *usecase.Ingestor
	store    *store.Store
	backend  domrepo.Backend
}

func NewOhlcEchoHandler(logger *xlogger.Logger, candles *usecase.CandlesUseCase, ingestor *usecase.Ingestor, st *store.Store, backend domrepo.Backend) *OhlcEchoHandler {
	return &OhlcEchoHandler{logger: logger, candles: candles, ingestor: ingestor, store: st, backend: backend}
}

func (h *OhlcEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/markets/:broker/:market", h.MarketInfo)
	g.GET("/pending", h.Pending)
	g.POST("/subscribe", h.Subscribe)
	g.POST("/unsubscribe", h.Unsubscribe)
}

func (h *OhlcEchoHandler) Health(c echo.Context) error {
	if err := h.backend.Ping(c.Request().Context()); err != nil {
		h.logger.Error("health backend ping failed", xlogger.Error(err))
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *OhlcEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	from := xutil.ParseTimeDefault(req.From, time.Time{})
	to := xutil.ParseTimeDefault(req.To, time.Time{})
	if tf < models.Tf1Week {
		from, to = xutil.AlignRange(from, to, time.Duration(tf.Seconds()*float64(time.Second)))
	}
	res, err := h.candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		BrokerID:  req.Broker,
		MarketID:  req.Market,
		Timeframe: tf,
		From:      from,
		To:        to,
		LastN:     req.LastN,
	})
	if err != nil {
		h.logger.Error("candles usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, res)
}

func (h *OhlcEchoHandler) MarketInfo(c echo.Context) error {
	req := &models.MarketInfoRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	info, err := h.backend.QueryMarketInfo(c.Request().Context(), req.Broker, req.Market)
	if err != nil {
		h.logger.Error("market info query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if info == nil {
		return xhttp.NotFoundResponse(c, "market not found")
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *OhlcEchoHandler) Pending(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.store.PendingCounts())
}

func (h *OhlcEchoHandler) Subscribe(c echo.Context) error {
	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	if err := h.ingestor.Subscribe(req.Market, tf); err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	return xhttp.SuccessResponse(c, map[string]string{"market": req.Market, "tf": tf.String()})
}

func (h *OhlcEchoHandler) Unsubscribe(c echo.Context) error {
	req := &models.SubscribeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, err := models.ParseTimeframe(req.TF)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}
	h.ingestor.Unsubscribe(req.Market, tf)
	return xhttp.NoContentResponse(c)
}
