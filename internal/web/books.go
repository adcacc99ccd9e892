package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/books"
)

const defaultBooksPerPage = 20

// BookDeps carries the collaborators of the catalog HTTP surface.
type BookDeps struct {
	Catalog *books.Client
	Logger  *zap.Logger
	// Admin guards the mutating routes.
	Admin gin.HandlerFunc
}

// MountBookRoutes registers the public catalog routes and the admin CRUD
// routes. The catalog API owns the data; these handlers only shape it.
func MountBookRoutes(router gin.IRouter, deps BookDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/api/books", func(contextGin *gin.Context) {
		catalog, listErr := deps.Catalog.ListBooks(contextGin.Request.Context())
		if listErr != nil {
			logger.Error("catalog list failed",
				zap.String("code", "web.books.list"),
				zap.Error(listErr))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
			return
		}

		if query := strings.TrimSpace(contextGin.Query("q")); query != "" {
			catalog = filterBooks(catalog, query)
		}

		pageNumber, _ := strconv.Atoi(contextGin.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(contextGin.DefaultQuery("per_page", strconv.Itoa(defaultBooksPerPage)))
		contextGin.JSON(http.StatusOK, books.Paginate(catalog, pageNumber, perPage))
	})

	router.GET("/api/books/:id", func(contextGin *gin.Context) {
		bookID, parseErr := strconv.Atoi(contextGin.Param("id"))
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_book_id"})
			return
		}
		record, getErr := deps.Catalog.GetBook(contextGin.Request.Context(), bookID)
		if getErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
			return
		}
		contextGin.JSON(http.StatusOK, record)
	})

	router.GET("/api/books/:id/recommendations", func(contextGin *gin.Context) {
		bookID, parseErr := strconv.Atoi(contextGin.Param("id"))
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_book_id"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"recommendations": deps.Catalog.GetRecommendations(contextGin.Request.Context(), bookID),
		})
	})

	admin := router.Group("/api/admin")
	if deps.Admin != nil {
		admin.Use(deps.Admin)
	}

	admin.POST("/books", func(contextGin *gin.Context) {
		var record books.Book
		if err := contextGin.BindJSON(&record); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if createErr := deps.Catalog.CreateBook(contextGin.Request.Context(), record); createErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
			return
		}
		contextGin.Status(http.StatusCreated)
	})

	admin.PUT("/books/:id", func(contextGin *gin.Context) {
		bookID, parseErr := strconv.Atoi(contextGin.Param("id"))
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_book_id"})
			return
		}
		var record books.Book
		if err := contextGin.BindJSON(&record); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		if updateErr := deps.Catalog.UpdateBook(contextGin.Request.Context(), bookID, record); updateErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	admin.DELETE("/books/:id", func(contextGin *gin.Context) {
		bookID, parseErr := strconv.Atoi(contextGin.Param("id"))
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_book_id"})
			return
		}
		if deleteErr := deps.Catalog.DeleteBook(contextGin.Request.Context(), bookID); deleteErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "catalog_unavailable"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

func filterBooks(catalog []books.Book, query string) []books.Book {
	loweredQuery := strings.ToLower(query)
	filtered := make([]books.Book, 0, len(catalog))
	for _, record := range catalog {
		if strings.Contains(strings.ToLower(record.Title), loweredQuery) ||
			strings.Contains(strings.ToLower(record.Authors), loweredQuery) {
			filtered = append(filtered, record)
		}
	}
	return filtered
}
