package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AppConfig contains dynamic values exposed to the browser front-end.
type AppConfig struct {
	GoogleClientID string
	CatalogBaseURL string
	BaseURL        string
}

// ServeEmbeddedStatic writes a single embedded asset with cache headers.
func ServeEmbeddedStatic(contextGin *gin.Context, filesystem embed.FS, path string, contentType string) {
	data, readErr := filesystem.ReadFile(path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "public, max-age=31536000, immutable")
	contextGin.Data(http.StatusOK, contentType, data)
}

// ServeAppConfig emits a JavaScript payload that hydrates window.__BOOKWISE_CONFIG.
func ServeAppConfig(contextGin *gin.Context, configuration AppConfig) {
	baseURL := configuration.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		scheme := forwardedProto(contextGin.Request)
		host := contextGin.Request.Host
		if host == "" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	payload := struct {
		GoogleClientID string `json:"googleClientId"`
		CatalogBaseURL string `json:"catalogBaseUrl"`
		BaseURL        string `json:"baseUrl"`
	}{
		GoogleClientID: configuration.GoogleClientID,
		CatalogBaseURL: configuration.CatalogBaseURL,
		BaseURL:        baseURL,
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "web.app_config.encode_failed",
		})
		return
	}

	script := fmt.Sprintf(`(function(){window.__BOOKWISE_CONFIG=Object.freeze(%s);})();`, string(encoded))

	contextGin.Header("Content-Type", "application/javascript; charset=utf-8")
	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Pragma", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.String(http.StatusOK, script)
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
