package authinfra

import (
	"context"

	"github.com/Abraxas-365/warden/pkg/iam/auth"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/logx"
)

// LogxAuditService implements auth.AuditService using structured logx logging.
type LogxAuditService struct{}

func NewLogxAuditService() *LogxAuditService {
	return &LogxAuditService{}
}

func (s *LogxAuditService) LogLoginAttempt(_ context.Context, scheme string, userID kernel.UserID, success bool, meta auth.RequestMeta) {
	entry := logx.WithFields(logx.Fields{
		"audit_event": "login_attempt",
		"scheme":      scheme,
		"success":     success,
		"ip":          meta.IP,
		"user_agent":  meta.UserAgent,
	})
	if !userID.IsEmpty() {
		entry = entry.WithField("user_id", userID)
	}
	if success {
		entry.Info("Audit: login attempt")
		return
	}
	entry.Warn("Audit: login attempt")
}

func (s *LogxAuditService) LogLogout(_ context.Context, scheme string, userID kernel.UserID) {
	logx.WithFields(logx.Fields{
		"audit_event": "logout",
		"scheme":      scheme,
		"user_id":     userID,
	}).Info("Audit: logout")
}

func (s *LogxAuditService) LogAccountCreated(_ context.Context, scheme string, userID kernel.UserID, meta auth.RequestMeta) {
	logx.WithFields(logx.Fields{
		"audit_event": "account_created",
		"scheme":      scheme,
		"user_id":     userID,
		"ip":          meta.IP,
	}).Info("Audit: account created")
}

var _ auth.AuditService = (*LogxAuditService)(nil)
