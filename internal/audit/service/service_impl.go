package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/clinicpay/internal/audit/domain"
	"github.com/smallbiznis/clinicpay/internal/audit/masking"
	"github.com/smallbiznis/clinicpay/internal/auditcontext"
	"github.com/smallbiznis/clinicpay/internal/clock"
	"github.com/smallbiznis/clinicpay/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

// Record writes one audit entry synchronously.
func (s *Service) Record(ctx context.Context, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(event.EntityType)
	entityID := strings.TrimSpace(event.EntityID)
	if entityType == "" || entityID == "" {
		return auditdomain.ErrInvalidEntity
	}

	event = withRequestMetadata(ctx, event)

	actorRole := strings.TrimSpace(event.ActorRole)
	if actorRole == "" {
		actorRole = "system"
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorID:    strings.TrimSpace(event.ActorID),
		ActorRole:  actorRole,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValues:  jsonMap(event.OldValues),
		NewValues:  jsonMap(event.NewValues),
		Reason:     optional(event.Reason),
		IPAddress:  optional(event.IPAddress),
		UserAgent:  optional(event.UserAgent),
		RequestID:  optional(event.RequestID),
		CreatedAt:  s.clock.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if strings.TrimSpace(req.EntityType) == "" || strings.TrimSpace(req.EntityID) == "" {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidEntity
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.Size()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		EntityType: strings.TrimSpace(req.EntityType),
		EntityID:   strings.TrimSpace(req.EntityID),
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	logs, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

// withRequestMetadata fills request fields the caller left empty from ctx.
func withRequestMetadata(ctx context.Context, event auditdomain.Event) auditdomain.Event {
	if event.IPAddress == "" {
		event.IPAddress = auditcontext.IPAddressFromContext(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = auditcontext.UserAgentFromContext(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = auditcontext.RequestIDFromContext(ctx)
	}
	return event
}

func jsonMap(values map[string]any) datatypes.JSONMap {
	masked := masking.MaskSensitive(values)
	if masked == nil {
		return nil
	}
	return datatypes.JSONMap(masked)
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
