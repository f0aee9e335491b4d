package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"immochat/models"
	"immochat/pkg/config"
	tokenstore "immochat/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserIDKey = "current_user_id"
	ContextRoleKey   = "current_role"
	ContextJTIKey    = "current_jti"
)

// parseToken validates the HMAC signature and the jti revocation list and
// returns the claims.
func parseToken(tokenStr string) (jwt.MapClaims, bool) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		// only accept HMAC signing
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	jti, _ := claims["jti"].(string)
	if tokenstore.IsRevoked(jti) {
		return nil, false
	}
	return claims, true
}

func subjectOf(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	if subf, ok := claims["sub"].(float64); ok {
		// jwt lib may parse numeric as float64
		return strconv.Itoa(int(subf))
	}
	return ""
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		claims, ok := parseToken(parts[1])
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid or revoked token"})
			return
		}

		userIDStr := subjectOf(claims)
		if userIDStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid subject in token"})
			return
		}

		jti, _ := claims["jti"].(string)
		role, _ := claims["role"].(string)
		c.Set(ContextUserIDKey, userIDStr)
		c.Set(ContextRoleKey, role)
		c.Set(ContextJTIKey, jti)
		c.Next()
	}
}

// OptionalAuth parses a bearer token when one is present but never rejects
// the request. The widget works anonymously; a logged-in visitor gets their
// id attached so the conversation binds to their account.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		parts := strings.Fields(auth)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			if claims, ok := parseToken(parts[1]); ok {
				role, _ := claims["role"].(string)
				jti, _ := claims["jti"].(string)
				c.Set(ContextUserIDKey, subjectOf(claims))
				c.Set(ContextRoleKey, role)
				c.Set(ContextJTIKey, jti)
			}
		}
		c.Next()
	}
}

// AdminOnly gates the back-office routes. Must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		roleRaw, _ := c.Get(ContextRoleKey)
		if role, _ := roleRaw.(string); role != models.AccountRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "admin access required"})
			return
		}
		c.Next()
	}
}

// WSAuth authenticates websocket upgrades where browsers cannot send an
// Authorization header: the token rides in the query string. With
// requireAdmin false a missing token passes through anonymously, which is
// what the widget socket wants.
func WSAuth(requireAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			if requireAdmin {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing token"})
				return
			}
			c.Next()
			return
		}
		claims, ok := parseToken(tokenStr)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid or revoked token"})
			return
		}
		role, _ := claims["role"].(string)
		if requireAdmin && role != models.AccountRoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "admin access required"})
			return
		}
		jti, _ := claims["jti"].(string)
		c.Set(ContextUserIDKey, subjectOf(claims))
		c.Set(ContextRoleKey, role)
		c.Set(ContextJTIKey, jti)
		c.Next()
	}
}

// CurrentUserID reads the authenticated account id set by AuthMiddleware or
// WSAuth. Returns 0 when the request is anonymous.
func CurrentUserID(c *gin.Context) uint {
	raw, _ := c.Get(ContextUserIDKey)
	s, _ := raw.(string)
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint(n)
}
