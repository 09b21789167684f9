// internal/middleware/helpers.go
package middleware

import "github.com/gin-gonic/gin"

// GetIdentityID gets the identity ID from context
func GetIdentityID(c *gin.Context) (int64, bool) {
	v, exists := c.Get("identity_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// MustGetIdentityID gets identity ID from context or panics
func MustGetIdentityID(c *gin.Context) int64 {
	id, exists := GetIdentityID(c)
	if !exists {
		panic("identity_id not found in context")
	}
	return id
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get("roles")
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// IsAdmin checks if the user carries the admin role
func IsAdmin(c *gin.Context) bool {
	for _, role := range GetRoles(c) {
		if role == "admin" {
			return true
		}
	}
	return false
}
