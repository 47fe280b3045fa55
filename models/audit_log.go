// Package models contains domain entities and business models for the popup engine
package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	MerchantID   *uint           `gorm:"index:idx_audit_merchant_id" json:"merchant_id,omitempty"`
	Merchant     *Merchant       `gorm:"foreignKey:MerchantID;references:ID" json:"merchant,omitempty"`
	StoreID      *uint           `gorm:"index:idx_audit_store_id" json:"store_id,omitempty"`
	Action       string          `gorm:"type:audit_action_enum;not null;index:idx_audit_action" json:"action"`
	Description  *string         `gorm:"type:text" json:"description,omitempty"`
	IPAddress    *string         `gorm:"type:inet;index:idx_audit_ip_address" json:"ip_address,omitempty"`
	UserAgent    *string         `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID    *string         `gorm:"size:255;index:idx_audit_request_id" json:"request_id,omitempty"`
	Metadata     json.RawMessage `gorm:"type:jsonb;index:idx_audit_metadata,type:gin" json:"metadata,omitempty"`
	Success      *bool           `gorm:"default:true;index:idx_audit_success" json:"success"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_audit_created_at" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}

// Audit action constants
const (
	AuditActionLoginSuccess          = "login_success"
	AuditActionLoginFailed           = "login_failed"
	AuditActionLogout                = "logout"
	AuditActionTokenRefreshed        = "token_refreshed"
	AuditActionSessionCreated        = "session_created"
	AuditActionSessionRevoked        = "session_revoked"
	AuditActionSettingsUpdated       = "settings_updated"
	AuditActionCampaignStatusChanged = "campaign_status_changed"
	AuditActionLeadCreated           = "lead_created"
	AuditActionDiscountIssued        = "discount_issued"
	AuditActionDiscountIssueFailed   = "discount_issue_failed"
	AuditActionConversionAttributed  = "conversion_attributed"
	AuditActionConversionDuplicate   = "conversion_duplicate"
	AuditActionConversionSkipped     = "conversion_skipped"
	AuditActionWebhookRejected       = "webhook_rejected"
	AuditActionTokenIPMismatch       = "token_ip_mismatch"
	AuditActionReportExported        = "report_exported"
	AuditActionAudienceSynced        = "audience_synced"
)

// AuditLogFilter represents filter criteria for audit log queries
type AuditLogFilter struct {
	ID            *uint
	MerchantID    *uint
	StoreID       *uint
	Action        *string
	Success       *bool
	IPAddress     *string
	RequestID     *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

func (a *AuditLog) IsFailed() bool {
	return a.Success != nil && !*a.Success
}

func (a *AuditLog) IsSecurityEvent() bool {
	securityActions := map[string]bool{
		AuditActionLoginSuccess:    true,
		AuditActionLoginFailed:     true,
		AuditActionSessionRevoked:  true,
		AuditActionWebhookRejected: true,
		AuditActionTokenIPMismatch: true,
	}
	return securityActions[a.Action]
}
