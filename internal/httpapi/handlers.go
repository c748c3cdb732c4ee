package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"outdial-platform/internal/auth"
	"outdial-platform/internal/cache"
	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/notify"
	"outdial-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Campaigns *campaigns.Service
	Calls     calls.Repository
	Cache     cache.Service
	Hub       *notify.Hub
}

// campaignCacheTTL bounds how stale a cached campaign read may get. Stats
// move fast while calls run, so keep it short.
const campaignCacheTTL = 2 * time.Second

func campaignCacheKey(id string) string { return "campaign:" + id }

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Credential validation is not implemented; this endpoint trusts its
// input and exists so the API is operable before user persistence lands.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || !rbac.IsKnown(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id and a known role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

type createCampaignRequest struct {
	Name     string             `json:"name"`
	Settings campaigns.Settings `json:"settings"`
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	campaign, err := h.Campaigns.Create(c.Request.Context(), campaigns.CreateRequest{
		WorkspaceID: workspaceID,
		Name:        req.Name,
		Settings:    req.Settings,
	})
	if err != nil {
		h.abortCampaignErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (h Handlers) GetCampaign(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	id := c.Param("campaign_id")

	if h.Cache != nil {
		if v, ok := h.Cache.Get(campaignCacheKey(id)); ok {
			if campaign, ok := v.(campaigns.Campaign); ok && campaign.WorkspaceID == workspaceID {
				c.JSON(http.StatusOK, campaign)
				return
			}
		}
	}

	campaign, err := h.Campaigns.Get(c.Request.Context(), workspaceID, id)
	if err != nil {
		h.abortCampaignErr(c, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Set(campaignCacheKey(id), campaign, campaignCacheTTL)
	}
	c.JSON(http.StatusOK, campaign)
}

// lifecycle transitions share a shape; op is bound at route registration.
func (h Handlers) campaignTransition(op func(c *gin.Context, workspaceID, id string) (campaigns.Campaign, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, err := auth.WorkspaceID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		id := c.Param("campaign_id")
		campaign, err := op(c, workspaceID, id)
		if err != nil {
			h.abortCampaignErr(c, err)
			return
		}
		if h.Cache != nil {
			h.Cache.Invalidate(campaignCacheKey(id))
		}
		c.JSON(http.StatusOK, campaign)
	}
}

func (h Handlers) StartCampaign() gin.HandlerFunc {
	return h.campaignTransition(func(c *gin.Context, wid, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Start(c.Request.Context(), wid, id)
	})
}

func (h Handlers) PauseCampaign() gin.HandlerFunc {
	return h.campaignTransition(func(c *gin.Context, wid, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Pause(c.Request.Context(), wid, id)
	})
}

func (h Handlers) ResumeCampaign() gin.HandlerFunc {
	return h.campaignTransition(func(c *gin.Context, wid, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Resume(c.Request.Context(), wid, id)
	})
}

func (h Handlers) StopCampaign() gin.HandlerFunc {
	return h.campaignTransition(func(c *gin.Context, wid, id string) (campaigns.Campaign, error) {
		return h.Campaigns.Stop(c.Request.Context(), wid, id)
	})
}

// --- Calls ---

func (h Handlers) ListCampaignCalls(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	id := c.Param("campaign_id")
	// Ownership check before touching call data.
	if _, err := h.Campaigns.Get(c.Request.Context(), workspaceID, id); err != nil {
		h.abortCampaignErr(c, err)
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	list, err := h.Calls.ListByCampaign(c.Request.Context(), id, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

// --- Events ---

// StreamEvents serves call and campaign updates over SSE from the
// in-process hub. Cross-node consumers use the AMQP queues instead.
func (h Handlers) StreamEvents(c *gin.Context) {
	if h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event hub not configured"})
		return
	}
	callCh, cancelCalls := h.Hub.Subscribe(notify.TopicCallUpdate)
	defer cancelCalls()
	campCh, cancelCamps := h.Hub.Subscribe(notify.TopicCampaignUpdate)
	defer cancelCamps()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-callCh:
			if !ok {
				return false
			}
			c.SSEvent(string(notify.TopicCallUpdate), string(msg))
		case msg, ok := <-campCh:
			if !ok {
				return false
			}
			c.SSEvent(string(notify.TopicCampaignUpdate), string(msg))
		}
		return true
	})
}

func (h Handlers) abortCampaignErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, campaigns.ErrNotFound), errors.Is(err, campaigns.ErrWrongWorkspace):
		// Cross-workspace lookups are indistinguishable from missing.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
	case errors.Is(err, campaigns.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, campaigns.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
