package kvlocal

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/acksell/cfkv/kv/cfapi"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/kvstore"
)

const keyspaceKey = "keyspace"

// APIHandler implements the namespace and key endpoints.
type APIHandler struct {
	store *kvstore.Store
}

func NewAPIHandler(store *kvstore.Store) *APIHandler {
	return &APIHandler{store: store}
}

// RegisterRoutes registers all API routes on the given router.
func (h *APIHandler) RegisterRoutes(r gin.IRouter) {
	namespaces := r.Group("/accounts/:account/storage/kv/namespaces")
	namespaces.GET("", h.listNamespaces)
	namespaces.POST("", h.createNamespace)
	namespaces.PUT("/:ns", h.renameNamespace)
	namespaces.DELETE("/:ns", h.removeNamespace)

	keys := namespaces.Group("/:ns", h.loadNamespace)
	keys.GET("/values/:key", h.getValue)
	keys.PUT("/values/:key", h.putValue)
	keys.DELETE("/values/:key", h.deleteValue)
	keys.GET("/metadata/:key", h.getMetadata)
	keys.PUT("/bulk", h.bulkPut)
	keys.DELETE("/bulk", h.bulkDelete)
	keys.GET("/keys", h.listKeys)
}

func (h *APIHandler) loadNamespace(c *gin.Context) {
	id := c.Param("ns")
	if _, err := h.store.GetNamespace(id); err != nil {
		h.storeError(c, err)
		return
	}
	c.Set(keyspaceKey, h.store.Namespace(id))
	c.Next()
}

func keyspace(c *gin.Context) *kvstore.Keyspace {
	return c.MustGet(keyspaceKey).(*kvstore.Keyspace)
}

// storeError maps store errors onto API errors.
func (h *APIHandler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, kvstore.ErrNamespaceNotFound):
		fail(c, http.StatusNotFound, cfapi.CodeNamespaceNotFound, "namespace not found")
	case errors.Is(err, kvsdk.ErrTooManyItems), errors.Is(err, kvstore.ErrInvalidCursor):
		fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, cfapi.CodeInternal, err.Error())
	}
}

func (h *APIHandler) listNamespaces(c *gin.Context) {
	all, err := h.store.ListNamespaces()
	if err != nil {
		h.storeError(c, err)
		return
	}
	if c.Query("order") == "id" {
		sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	}
	if c.Query("direction") == "desc" {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}

	page := parseIntParam(c, "page", 1)
	perPage := parseIntParam(c, "per_page", 20)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	start := min((page-1)*perPage, len(all))
	end := min(start+perPage, len(all))

	out := make([]cfapi.Namespace, 0, end-start)
	for _, ns := range all[start:end] {
		out = append(out, cfapi.Namespace{ID: ns.ID, Title: ns.Title, SupportsURLEncoding: true})
	}
	respond(c, out, &cfapi.ResultInfo{
		Page:       page,
		PerPage:    perPage,
		Count:      len(out),
		TotalCount: len(all),
	})
}

func (h *APIHandler) createNamespace(c *gin.Context) {
	var req cfapi.TitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "title is required")
		return
	}
	existing, err := h.store.ListNamespaces()
	if err != nil {
		h.storeError(c, err)
		return
	}
	for _, ns := range existing {
		if ns.Title == req.Title {
			fail(c, http.StatusBadRequest, cfapi.CodeNamespaceExists, "a namespace with this title already exists")
			return
		}
	}
	info, err := h.store.CreateNamespace(req.Title)
	if err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, cfapi.Namespace{ID: info.ID, Title: info.Title, SupportsURLEncoding: true}, nil)
}

func (h *APIHandler) renameNamespace(c *gin.Context) {
	var req cfapi.TitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "title is required")
		return
	}
	if err := h.store.RenameNamespace(c.Param("ns"), req.Title); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

func (h *APIHandler) removeNamespace(c *gin.Context) {
	if err := h.store.RemoveNamespace(c.Param("ns")); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

// getValue answers with the raw value, not an envelope.
func (h *APIHandler) getValue(c *gin.Context) {
	out, err := keyspace(c).Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	if !out.Found {
		fail(c, http.StatusNotFound, cfapi.CodeKeyNotFound, "get: 'key not found'")
		return
	}
	if out.Expiration > 0 {
		c.Header("Expiration", strconv.FormatInt(out.Expiration, 10))
	}
	c.Data(http.StatusOK, "application/octet-stream", out.Value)
}

func (h *APIHandler) getMetadata(c *gin.Context) {
	out, err := keyspace(c).Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	if !out.Found {
		fail(c, http.StatusNotFound, cfapi.CodeKeyNotFound, "metadata: 'key not found'")
		return
	}
	if out.Metadata == nil {
		respond(c, nil, nil)
		return
	}
	respond(c, out.Metadata, nil)
}

// putValue accepts a multipart form with value and metadata fields, or the
// raw value as the body.
func (h *APIHandler) putValue(c *gin.Context) {
	kv := kvsdk.KeyValue{
		Key:           c.Param("key"),
		Expiration:    int64(parseIntParam(c, "expiration", 0)),
		ExpirationTTL: int64(parseIntParam(c, "expiration_ttl", 0)),
	}
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "invalid form: "+err.Error())
			return
		}
		if v := form.Value["value"]; len(v) > 0 {
			kv.Value = []byte(v[0])
		} else if files := form.File["value"]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, err.Error())
				return
			}
			kv.Value, err = io.ReadAll(f)
			f.Close()
			if err != nil {
				fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, err.Error())
				return
			}
		}
		if md := form.Value["metadata"]; len(md) > 0 && md[0] != "" {
			if err := json.Unmarshal([]byte(md[0]), &kv.Metadata); err != nil {
				fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "metadata is not a JSON object")
				return
			}
		}
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, err.Error())
			return
		}
		kv.Value = body
	}
	if err := keyspace(c).Put(c.Request.Context(), kv); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

func (h *APIHandler) deleteValue(c *gin.Context) {
	if err := keyspace(c).Delete(c.Request.Context(), c.Param("key")); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

func (h *APIHandler) bulkPut(c *gin.Context) {
	var items []cfapi.BulkItem
	if err := c.ShouldBindJSON(&items); err != nil {
		fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "invalid bulk body: "+err.Error())
		return
	}
	kvs := make([]kvsdk.KeyValue, 0, len(items))
	for _, item := range items {
		kv, err := item.KeyValue()
		if err != nil {
			fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, err.Error())
			return
		}
		kvs = append(kvs, kv)
	}
	if err := keyspace(c).BulkPut(c.Request.Context(), kvs); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

func (h *APIHandler) bulkDelete(c *gin.Context) {
	var keys []string
	if err := c.ShouldBindJSON(&keys); err != nil {
		fail(c, http.StatusBadRequest, cfapi.CodeBadRequest, "invalid bulk body: "+err.Error())
		return
	}
	if err := keyspace(c).BulkDelete(c.Request.Context(), keys); err != nil {
		h.storeError(c, err)
		return
	}
	respond(c, nil, nil)
}

func (h *APIHandler) listKeys(c *gin.Context) {
	out, err := keyspace(c).List(c.Request.Context(), kvsdk.ListInput{
		Prefix: c.Query("prefix"),
		Cursor: c.Query("cursor"),
		Limit:  parseIntParam(c, "limit", kvsdk.MaxListLimit),
	})
	if err != nil {
		h.storeError(c, err)
		return
	}
	keys := make([]cfapi.KeyInfo, 0, len(out.Items))
	for _, it := range out.Items {
		keys = append(keys, cfapi.KeyInfo{
			Name:       it.Name,
			Expiration: it.Expiration,
			Metadata:   it.Metadata,
		})
	}
	respond(c, keys, &cfapi.ResultInfo{Count: len(keys), Cursor: out.Cursor})
}

func parseIntParam(c *gin.Context, name string, def int) int {
	s := c.Query(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
