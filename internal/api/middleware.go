package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	ctxAccountID = "accountID"
	ctxIsAdmin   = "isAdmin"
	ctxTarget    = "targetAccountID"
)

// Authenticator validates HS256 bearer tokens whose subject is the caller's
// account id.
type Authenticator struct {
	secret  []byte
	isAdmin func(accountID int64) bool
}

func NewAuthenticator(secret string, isAdmin func(accountID int64) bool) *Authenticator {
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}
	return &Authenticator{secret: []byte(secret), isAdmin: isAdmin}
}

// Required rejects requests without a valid token and stores the caller in
// the gin context.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication is not configured")
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token format")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || accountID <= 0 {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid account in token")
			return
		}

		c.Set(ctxAccountID, accountID)
		c.Set(ctxIsAdmin, a.isAdmin(accountID))
		c.Next()
	}
}

// AdminOnly must run after Required.
func (a *Authenticator) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxIsAdmin) {
			abortWith(c, http.StatusForbidden, "FORBIDDEN", "Administrator access required")
			return
		}
		c.Next()
	}
}

// OwnAccount allows the request only when :id is the caller's account, or the
// caller is an administrator. Must run after Required.
func OwnAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			abortWith(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid account id")
			return
		}
		if id != c.GetInt64(ctxAccountID) && !c.GetBool(ctxIsAdmin) {
			abortWith(c, http.StatusForbidden, "FORBIDDEN", "Access to this account is not allowed")
			return
		}
		c.Set(ctxTarget, id)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
