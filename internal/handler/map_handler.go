package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"MachineMap-App/internal/domain/model"
	"MachineMap-App/internal/usecase"
)

// MapHandler 地図画面向けのHTTPハンドラー
type MapHandler struct {
	registry *SessionRegistry
	logger   *slog.Logger
}

// NewMapHandler MapHandlerの新しいインスタンスを作成
func NewMapHandler(registry *SessionRegistry, logger *slog.Logger) *MapHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MapHandler{
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes /api/map/sessions 以下のルートを登録
func (h *MapHandler) RegisterRoutes(r gin.IRouter) {
	sessions := r.Group("/api/map/sessions")
	sessions.POST("", h.CreateSession)
	sessions.POST("/:id/viewport", h.UpdateViewport)
	sessions.POST("/:id/jump", h.JumpTo)
	sessions.POST("/:id/retry", h.Retry)
	sessions.POST("/:id/invalidate", h.Invalidate)
	sessions.GET("/:id/machines", h.GetMachines)
	sessions.DELETE("/:id", h.CloseSession)
}

// CreateSession POST /api/map/sessions - 地図セッションの作成
func (h *MapHandler) CreateSession(c *gin.Context) {
	session := h.registry.Create()

	c.JSON(http.StatusCreated, model.CreateSessionResponse{
		SessionID: session.ID(),
		ExpiresIn: h.registry.IdleTTL().String(),
		CreatedAt: time.Now(),
	})
}

// UpdateViewport POST /api/map/sessions/:id/viewport - パン/ズーム後のビューポートを通知
// 取得は裏で行い、キャッシュ済みの表示内容をすぐに返す
func (h *MapHandler) UpdateViewport(c *gin.Context) {
	h.withBounds(c, func(session usecase.MapSession, bounds model.BoundingBox) error {
		return session.OnViewportSettled(bounds)
	})
}

// JumpTo POST /api/map/sessions/:id/jump - 検索結果などへのジャンプ（スロットルなしで即時取得）
func (h *MapHandler) JumpTo(c *gin.Context) {
	h.withBounds(c, func(session usecase.MapSession, bounds model.BoundingBox) error {
		return session.JumpTo(bounds)
	})
}

// Retry POST /api/map/sessions/:id/retry - 取得失敗後の再試行
func (h *MapHandler) Retry(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Retry(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toMachinesResponse(session.Snapshot()))
}

// Invalidate POST /api/map/sessions/:id/invalidate - キャッシュを破棄して取得し直す
func (h *MapHandler) Invalidate(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Invalidate(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toMachinesResponse(session.Snapshot()))
}

// GetMachines GET /api/map/sessions/:id/machines - 表示中のマシン一覧（format=geojson でGeoJSON）
func (h *MapHandler) GetMachines(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	snapshot := session.Snapshot()
	if c.Query("format") == "geojson" {
		c.JSON(http.StatusOK, toFeatureCollection(snapshot.Points))
		return
	}
	c.JSON(http.StatusOK, toMachinesResponse(snapshot))
}

// CloseSession DELETE /api/map/sessions/:id - 地図画面を閉じる
func (h *MapHandler) CloseSession(c *gin.Context) {
	if err := h.registry.Delete(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MapHandler) withBounds(c *gin.Context, apply func(usecase.MapSession, model.BoundingBox) error) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	bounds, err := bindBounds(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := apply(session, bounds); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toMachinesResponse(session.Snapshot()))
}

func (h *MapHandler) session(c *gin.Context) (usecase.MapSession, bool) {
	session, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return session, true
}

// boundsRequest JSON ボディの境界ボックス
// 項目の欠落をゼロ座標と区別するためポインタで受ける
type boundsRequest struct {
	MinLat *float64 `json:"min_lat" binding:"required"`
	MaxLat *float64 `json:"max_lat" binding:"required"`
	MinLng *float64 `json:"min_lng" binding:"required"`
	MaxLng *float64 `json:"max_lng" binding:"required"`
}

// bindBounds bbox クエリパラメータ、なければ JSON ボディから境界ボックスを読み取る
func bindBounds(c *gin.Context) (model.BoundingBox, error) {
	if raw := c.Query("bbox"); raw != "" {
		return model.ParseBBox(raw)
	}

	var req boundsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return model.BoundingBox{}, errors.Join(model.ErrInvalidBounds, err)
	}
	bounds := model.BoundingBox{MinLat: *req.MinLat, MaxLat: *req.MaxLat, MinLng: *req.MinLng, MaxLng: *req.MaxLng}
	if err := bounds.Validate(); err != nil {
		return model.BoundingBox{}, err
	}
	return bounds, nil
}

func (h *MapHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "Map session not found or expired",
		})
	case errors.Is(err, model.ErrSessionClosed):
		c.JSON(http.StatusGone, gin.H{
			"error":   "session_closed",
			"message": "Map session already closed",
		})
	case errors.Is(err, model.ErrInvalidBounds):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_parameter",
			"message": "bbox is invalid (format: min_lng,min_lat,max_lng,max_lat): " + err.Error(),
		})
	default:
		h.logger.Error("❌ 地図リクエストの処理に失敗", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}

func toMachinesResponse(snapshot usecase.MapSnapshot) model.MachinesResponse {
	resp := model.MachinesResponse{
		SessionID:  snapshot.SessionID,
		Bounds:     snapshot.Bounds,
		Machines:   snapshot.Points,
		Count:      len(snapshot.Points),
		IsFetching: snapshot.IsFetching,
	}
	if snapshot.FetchError != nil {
		resp.FetchError = snapshot.FetchError.Error()
	}
	if !snapshot.FetchedAt.IsZero() {
		fetchedAt := snapshot.FetchedAt
		resp.FetchedAt = &fetchedAt
	}
	return resp
}

func toFeatureCollection(points []model.POI) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := range points {
		if !points[i].HasLocation() {
			continue
		}
		ll := points[i].ToLatLng()
		feature := geojson.NewFeature(orb.Point{ll.Lng, ll.Lat})
		feature.ID = points[i].ID
		feature.Properties["name"] = points[i].Name
		feature.Properties["categories"] = points[i].Categories
		feature.Properties["status"] = points[i].Status
		if points[i].LastVerifiedAt != nil {
			feature.Properties["last_verified_at"] = points[i].LastVerifiedAt.Format(time.RFC3339)
		}
		if url := points[i].GetURL(); url != "" {
			feature.Properties["url"] = url
		}
		fc.Append(feature)
	}
	return fc
}
