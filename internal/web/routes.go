package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/bookwise/internal/authkit"
	"github.com/tyemirov/bookwise/internal/identity"
)

// DefaultMaxAvatarBytes caps the accepted avatar upload size.
const DefaultMaxAvatarBytes = 2 << 20

// GoogleExchangeFunc completes a Google OAuth redirect by exchanging the
// returned ID token for a provider session.
type GoogleExchangeFunc func(ctx context.Context, rawIDToken string) (*identity.AuthResult, error)

// AuthDeps carries the collaborators of the auth HTTP surface.
type AuthDeps struct {
	Service *authkit.AuthService
	Logger  *zap.Logger
	Limiter *IPRateLimiter
	// GoogleExchange is mounted as the OAuth callback when non-nil; hosted
	// providers that finish the redirect themselves leave it nil.
	GoogleExchange GoogleExchangeFunc
	MaxAvatarBytes int64
}

// MountAuthRoutes registers /auth/signup, /auth/signin, /auth/google,
// /auth/signout, and /auth/me.
func MountAuthRoutes(router gin.IRouter, deps AuthDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAvatarBytes := deps.MaxAvatarBytes
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = DefaultMaxAvatarBytes
	}

	limited := func(handler gin.HandlerFunc) gin.HandlerFunc {
		if deps.Limiter == nil {
			return handler
		}
		return func(contextGin *gin.Context) {
			if !deps.Limiter.Allow(contextGin.ClientIP()) {
				contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
				return
			}
			handler(contextGin)
		}
	}

	router.POST("/auth/signup", limited(func(contextGin *gin.Context) {
		email, password, username, avatar, parseErr := parseSignupRequest(contextGin, maxAvatarBytes)
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}

		createdUser, signUpErr := deps.Service.SignUp(contextGin.Request.Context(), email, password, username, avatar)
		if signUpErr != nil {
			writeCredentialError(contextGin, signUpErr)
			return
		}
		contextGin.JSON(http.StatusCreated, sessionResponse(createdUser, deps.Service.Snapshot()))
	}))

	router.POST("/auth/signin", limited(func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		signedInUser, signInErr := deps.Service.SignIn(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if signInErr != nil {
			writeCredentialError(contextGin, signInErr)
			return
		}
		contextGin.JSON(http.StatusOK, sessionResponse(signedInUser, deps.Service.Snapshot()))
	}))

	router.GET("/auth/google", func(contextGin *gin.Context) {
		redirectURL, oauthErr := deps.Service.LoginWithGoogle(contextGin.Request.Context())
		if oauthErr != nil {
			logger.Error("oauth redirect construction failed",
				zap.String("code", "web.auth.google"),
				zap.Error(oauthErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Redirect(http.StatusFound, redirectURL)
	})

	if deps.GoogleExchange != nil {
		router.POST("/auth/google/callback", func(contextGin *gin.Context) {
			var inbound struct {
				GoogleIDToken string `json:"google_id_token"`
			}
			if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.GoogleIDToken) == "" {
				contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
				return
			}
			result, exchangeErr := deps.GoogleExchange(contextGin.Request.Context(), inbound.GoogleIDToken)
			if exchangeErr != nil {
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_google_token"})
				return
			}
			contextGin.JSON(http.StatusOK, sessionResponse(result.User, deps.Service.Snapshot()))
		})
	}

	router.POST("/auth/signout", func(contextGin *gin.Context) {
		deps.Service.SignOut(contextGin.Request.Context())
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/auth/me", func(contextGin *gin.Context) {
		snapshot := deps.Service.Snapshot()
		payload := gin.H{
			"authenticated": snapshot.Session != nil,
			"initializing":  snapshot.Initializing,
			"role":          snapshot.Role,
		}
		if snapshot.User != nil {
			payload["user"] = userPayload(snapshot.User)
		}
		contextGin.JSON(http.StatusOK, payload)
	})
}

func parseSignupRequest(contextGin *gin.Context, maxAvatarBytes int64) (string, string, string, *authkit.AvatarAsset, error) {
	contentType := contextGin.ContentType()
	if contentType == "multipart/form-data" {
		email := contextGin.PostForm("email")
		password := contextGin.PostForm("password")
		username := contextGin.PostForm("username")
		if strings.TrimSpace(email) == "" || strings.TrimSpace(username) == "" {
			return "", "", "", nil, errors.New("web.signup.missing_fields")
		}

		fileHeader, fileErr := contextGin.FormFile("avatar")
		if fileErr != nil {
			// Avatar is optional.
			return email, password, username, nil, nil
		}
		if fileHeader.Size > maxAvatarBytes {
			return "", "", "", nil, errors.New("web.signup.avatar_too_large")
		}
		file, openErr := fileHeader.Open()
		if openErr != nil {
			return "", "", "", nil, openErr
		}
		defer func() { _ = file.Close() }()
		data, readErr := io.ReadAll(io.LimitReader(file, maxAvatarBytes))
		if readErr != nil {
			return "", "", "", nil, readErr
		}
		return email, password, username, &authkit.AvatarAsset{
			ContentType: fileHeader.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}

	var inbound struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := contextGin.BindJSON(&inbound); err != nil {
		return "", "", "", nil, err
	}
	if strings.TrimSpace(inbound.Email) == "" || strings.TrimSpace(inbound.Username) == "" {
		return "", "", "", nil, errors.New("web.signup.missing_fields")
	}
	return inbound.Email, inbound.Password, inbound.Username, nil, nil
}

func sessionResponse(user *identity.User, snapshot authkit.Snapshot) gin.H {
	payload := gin.H{"user": userPayload(user)}
	if snapshot.Session != nil {
		payload["access_token"] = snapshot.Session.AccessToken
		payload["expires_at"] = snapshot.Session.ExpiresAt
	}
	return payload
}

func userPayload(user *identity.User) gin.H {
	if user == nil {
		return nil
	}
	return gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"metadata": user.Metadata,
	}
}

func writeCredentialError(contextGin *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, identity.ErrEmailTaken):
		contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "email_taken"})
	case errors.Is(err, identity.ErrWeakPassword), errors.Is(err, identity.ErrInvalidEmail):
		contextGin.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_credentials_format"})
	default:
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider_unavailable"})
	}
}
