package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"

	"cryptvault/internal/errs"
	"cryptvault/internal/model"
)

// apiResponse is the JSON envelope for every endpoint.
type apiResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Affected int    `json:"affected,omitempty"`
	Data     any    `json:"data,omitempty"`
}

func okResponse(c *gin.Context, affected int, data any) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Affected: affected, Data: data})
}

func failResponse(c *gin.Context, status int, message string) {
	c.JSON(status, apiResponse{Message: message})
}

// mapError converts service failures into responses per the error taxonomy.
// AlreadyShared is an informational no-op, not an error banner.
func mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrAlreadyShared):
		c.JSON(http.StatusOK, apiResponse{Success: true, Message: "already shared"})
	case errors.Is(err, errs.ErrRecipientMustPurgeFirst):
		failResponse(c, http.StatusConflict,
			"the recipient's trash still holds this item; they must permanently delete it before it can be shared again")
	case errors.Is(err, errs.ErrForbidden):
		failResponse(c, http.StatusForbidden, "forbidden")
	case errors.Is(err, errs.ErrNotFound):
		failResponse(c, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrInvalidState):
		failResponse(c, http.StatusConflict, err.Error())
	default:
		failResponse(c, http.StatusInternalServerError, "temporary failure, retry the operation")
	}
}

func itemID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("id"))
	if err != nil {
		failResponse(c, http.StatusBadRequest, "bad item id")
		return uuid.Nil, false
	}
	return id, true
}

// --- items ---

type createItemRequest struct {
	ID              string            `json:"id"`
	Name            string            `json:"name" binding:"required"`
	Size            int64             `json:"size"`
	Mime            string            `json:"mime"`
	IsFolder        bool              `json:"is_folder"`
	ParentID        string            `json:"parent_id"`
	BlobEnc         []byte            `json:"blob_enc"`
	IV              []byte            `json:"iv"`
	OwnerWrappedKey []byte            `json:"owner_wrapped_key"`
	RecipientKeys   map[string][]byte `json:"recipient_keys"`
}

func (s *Server) createItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failResponse(c, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	ni := model.NewItem{
		Name:            req.Name,
		Size:            req.Size,
		Mime:            req.Mime,
		IsFolder:        req.IsFolder,
		BlobEnc:         model.EncryptedBlob(req.BlobEnc),
		IV:              req.IV,
		OwnerWrappedKey: req.OwnerWrappedKey,
	}
	if req.ID != "" {
		id, err := uuid.FromString(req.ID)
		if err != nil {
			failResponse(c, http.StatusBadRequest, "bad item id")
			return
		}
		ni.ID = id
	}
	if req.ParentID != "" {
		pid, err := uuid.FromString(req.ParentID)
		if err != nil {
			failResponse(c, http.StatusBadRequest, "bad parent id")
			return
		}
		ni.ParentID = uuid.NullUUID{UUID: pid, Valid: true}
	}
	if len(req.RecipientKeys) > 0 {
		ni.RecipientKeys = make(map[string][]byte, len(req.RecipientKeys))
		for who, key := range req.RecipientKeys {
			ni.RecipientKeys[model.NormalizeIdentity(who)] = key
		}
	}

	it, affected, err := s.engine.CreateItem(c.Request.Context(), callerIdentity(c), ni)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, apiResponse{Success: true, Affected: affected, Data: gin.H{"id": it.ID}})
}

func (s *Server) getEnvelope(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	env, err := s.engine.GetEnvelope(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, 0, gin.H{
		"item_id":     env.ItemID,
		"blob_enc":    []byte(env.BlobEnc),
		"iv":          env.IV,
		"wrapped_key": env.WrappedKey,
	})
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) renameItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failResponse(c, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	if err := s.engine.Rename(c.Request.Context(), callerIdentity(c), id, req.Name); err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, 1, nil)
}

func (s *Server) trashSubtree(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.TrashSubtree)
}

func (s *Server) restoreSubtree(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.RestoreSubtree)
}

func (s *Server) permanentDelete(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.OwnerPermanentDelete)
}

// --- shares ---

type shareRequest struct {
	ItemID     string `json:"item_id" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	WrappedKey []byte `json:"wrapped_key"`
	Permission string `json:"permission"`
}

func (s *Server) share(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failResponse(c, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	id, err := uuid.FromString(req.ItemID)
	if err != nil {
		failResponse(c, http.StatusBadRequest, "bad item id")
		return
	}
	affected, err := s.engine.Share(c.Request.Context(), callerIdentity(c), id,
		req.Recipient, req.WrappedKey, model.Permission(req.Permission))
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, affected, nil)
}

func (s *Server) unshare(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	recursive := c.Query("recursive") == "true"
	affected, err := s.engine.Unshare(c.Request.Context(), callerIdentity(c), id, c.Param("recipient"), recursive)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, affected, nil)
}

func (s *Server) unshareAll(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	recursive := c.Query("recursive") == "true"
	affected, err := s.engine.UnshareAll(c.Request.Context(), callerIdentity(c), id, recursive)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, affected, nil)
}

func (s *Server) recipientTrash(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.RecipientTrash)
}

func (s *Server) recipientRestore(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.RecipientRestore)
}

func (s *Server) recipientPurge(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.RecipientPurge)
}

func (s *Server) hideForever(c *gin.Context) {
	s.applyOwnerOp(c, s.engine.HideForever)
}

type unhideRequest struct {
	ItemIDs []string `json:"item_ids" binding:"required"`
}

func (s *Server) unhide(c *gin.Context) {
	var req unhideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failResponse(c, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ItemIDs))
	for _, raw := range req.ItemIDs {
		id, err := uuid.FromString(raw)
		if err != nil {
			failResponse(c, http.StatusBadRequest, "bad item id: "+raw)
			return
		}
		ids = append(ids, id)
	}
	affected, err := s.engine.Unhide(c.Request.Context(), callerIdentity(c), ids)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, affected, nil)
}

// --- listings ---

func (s *Server) listVisible(c *gin.Context) {
	s.listShared(c, s.engine.ListVisible)
}

func (s *Server) listTrash(c *gin.Context) {
	s.listShared(c, s.engine.ListTrash)
}

func (s *Server) listHidden(c *gin.Context) {
	s.listShared(c, s.engine.ListHidden)
}

func (s *Server) listGrantsFor(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	grants, err := s.engine.ListGrantsFor(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, 0, grantViews(grants))
}

func (s *Server) listSharedByMe(c *gin.Context) {
	grants, err := s.engine.ListSharedByOwner(c.Request.Context(), callerIdentity(c))
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, 0, grantViews(grants))
}

// --- shared helpers ---

type engineOp func(ctx context.Context, caller string, itemID uuid.UUID) (int, error)

func (s *Server) applyOwnerOp(c *gin.Context, op engineOp) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	affected, err := op(c.Request.Context(), callerIdentity(c), id)
	if err != nil {
		mapError(c, err)
		return
	}
	okResponse(c, affected, nil)
}

type listOp func(ctx context.Context, caller string) ([]model.SharedItem, error)

func (s *Server) listShared(c *gin.Context, op listOp) {
	items, err := op(c.Request.Context(), callerIdentity(c))
	if err != nil {
		mapError(c, err)
		return
	}
	out := make([]sharedItemView, 0, len(items))
	for _, it := range items {
		out = append(out, sharedItemView{
			ItemID:    it.ItemID,
			Name:      it.Name,
			Size:      it.Size,
			Mime:      it.Mime,
			IsFolder:  it.IsFolder,
			Granter:   it.Granter,
			SharedAt:  it.SharedAt,
			TrashedAt: it.TrashedAt,
			HiddenAt:  it.HiddenAt,
		})
	}
	okResponse(c, 0, out)
}

type sharedItemView struct {
	ItemID    uuid.UUID  `json:"item_id"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	Mime      string     `json:"mime"`
	IsFolder  bool       `json:"is_folder"`
	Granter   string     `json:"granter"`
	SharedAt  time.Time  `json:"shared_at"`
	TrashedAt *time.Time `json:"trashed_at,omitempty"`
	HiddenAt  *time.Time `json:"hidden_at,omitempty"`
}

type grantView struct {
	ItemID     uuid.UUID        `json:"item_id"`
	Recipient  string           `json:"recipient"`
	Name       string           `json:"name"`
	Size       int64            `json:"size"`
	Mime       string           `json:"mime"`
	IsFolder   bool             `json:"is_folder"`
	Permission model.Permission `json:"permission"`
	CreatedAt  time.Time        `json:"created_at"`
}

func grantViews(grants []model.Grant) []grantView {
	out := make([]grantView, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantView{
			ItemID:     g.ItemID,
			Recipient:  g.Recipient,
			Name:       g.Name,
			Size:       g.Size,
			Mime:       g.Mime,
			IsFolder:   g.IsFolder,
			Permission: g.Permission,
			CreatedAt:  g.CreatedAt,
		})
	}
	return out
}
