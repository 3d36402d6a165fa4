package kvlocal

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/acksell/cfkv/kv/cfapi"
	"github.com/acksell/cfkv/kv/kvsdk"
	"github.com/acksell/cfkv/kv/kvstore"
)

type EngineOptions struct {
	// APIToken, when set, is required as a bearer token or X-Auth-Key.
	APIToken string
	Logger   zerolog.Logger
}

// NewEngine returns a gin engine serving the API under BasePath.
// Key names may contain URL encoded slashes.
func NewEngine(store *kvstore.Store, opts EngineOptions) *gin.Engine {
	r := gin.New()
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(gin.Recovery(), requestLogger(opts.Logger), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Auth-Key", "X-Auth-Email"},
	}))

	api := r.Group(BasePath)
	if opts.APIToken != "" {
		api.Use(requireToken(opts.APIToken))
	}
	NewAPIHandler(store).RegisterRoutes(api)
	return r
}

// requestLogger logs every request at debug level.
func requestLogger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "Bearer "+token || c.GetHeader("X-Auth-Key") == token {
			c.Next()
			return
		}
		fail(c, http.StatusForbidden, cfapi.CodeAuthentication, "Authentication error")
	}
}

func respond(c *gin.Context, result any, info *cfapi.ResultInfo) {
	env := cfapi.Envelope{
		Success:    true,
		Errors:     []kvsdk.APIError{},
		Messages:   []json.RawMessage{},
		ResultInfo: info,
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			fail(c, http.StatusInternalServerError, cfapi.CodeInternal, err.Error())
			return
		}
		env.Result = b
	}
	c.JSON(http.StatusOK, env)
}

func fail(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, cfapi.Envelope{
		Success:  false,
		Errors:   []kvsdk.APIError{{Code: code, Message: msg}},
		Messages: []json.RawMessage{},
	})
}
