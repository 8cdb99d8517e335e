package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/clinicpay/internal/invoice/domain"
	obscontext "github.com/smallbiznis/clinicpay/internal/observability/context"
)

// Identity is asserted by the auth proxy in front of this service.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired rejects requests that carry no actor identity.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := invoicedomain.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))))
		if !role.Valid() {
			AbortWithError(c, newValidationError("actor_role", "invalid_actor_role", "invalid actor role"))
			return
		}

		c.Set(contextActorKey, invoicedomain.Actor{ID: id, Role: role})
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), string(role), id))
		c.Next()
	}
}

func actorFrom(c *gin.Context) invoicedomain.Actor {
	actor, _ := c.Get(contextActorKey)
	a, _ := actor.(invoicedomain.Actor)
	return a
}
