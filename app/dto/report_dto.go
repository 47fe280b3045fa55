package dto

// CampaignReportRequest bounds the reporting window
type CampaignReportRequest struct {
	StartDate string `query:"start_date" validate:"omitempty,datetime=2006-01-02" example:"2024-01-01"`
	EndDate   string `query:"end_date" validate:"omitempty,datetime=2006-01-02" example:"2024-01-31"`
}

// CampaignReportRow aggregates one campaign's performance
type CampaignReportRow struct {
	CampaignUUID   string  `json:"campaign_uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	CampaignName   string  `json:"campaign_name" example:"Spring Spin-to-Win"`
	TemplateFamily string  `json:"template_family" example:"spin_wheel"`
	Status         string  `json:"status" example:"active"`
	Displays       int64   `json:"displays" example:"12450"`
	Leads          int64   `json:"leads" example:"830"`
	Conversions    int64   `json:"conversions" example:"112"`
	RevenueCents   int64   `json:"revenue_cents" example:"842000"`
	ConversionRate float64 `json:"conversion_rate" example:"0.1349"`
}

// CampaignReportResponse is the per-campaign performance report
type CampaignReportResponse struct {
	Rows      []CampaignReportRow `json:"rows"`
	StartDate string              `json:"start_date,omitempty" example:"2024-01-01"`
	EndDate   string              `json:"end_date,omitempty" example:"2024-01-31"`
}

// ConversionDTO is one attributed order in the conversion list
type ConversionDTO struct {
	OrderID       int64    `json:"order_id" example:"5678901234"`
	CampaignUUID  string   `json:"campaign_uuid,omitempty" example:"550e8400-e29b-41d4-a716-446655440000"`
	Source        string   `json:"source" example:"lead_code"`
	DiscountCodes []string `json:"discount_codes,omitempty"`
	CustomerEmail string   `json:"customer_email,omitempty" example:"visitor@example.com"`
	RevenueCents  int64    `json:"revenue_cents" example:"7500"`
	Currency      string   `json:"currency" example:"USD"`
	CreatedAt     string   `json:"created_at" example:"2024-02-01T08:00:00Z"`
}

// ListConversionsResponse is the paginated conversion list
type ListConversionsResponse struct {
	Conversions []ConversionDTO `json:"conversions"`
	Total       int64           `json:"total" example:"112"`
	Page        int             `json:"page" example:"1"`
	PageSize    int             `json:"page_size" example:"20"`
}

// LeadDTO is one captured lead in the export and list views
type LeadDTO struct {
	UUID         string `json:"uuid" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	CampaignUUID string `json:"campaign_uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Email        string `json:"email" example:"visitor@example.com"`
	DiscountCode string `json:"discount_code,omitempty" example:"SPIN-ABC123"`
	CreatedAt    string `json:"created_at" example:"2024-02-01T08:00:00Z"`
}

// ListLeadsRequest filters the dashboard lead list
type ListLeadsRequest struct {
	CampaignUUID string `query:"campaign_uuid" validate:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Page         int    `query:"page" validate:"omitempty,gte=1" example:"1"`
	PageSize     int    `query:"page_size" validate:"omitempty,gte=1,lte=100" example:"20"`
}

// ListLeadsResponse is the paginated lead list
type ListLeadsResponse struct {
	Leads    []LeadDTO `json:"leads"`
	Total    int64     `json:"total" example:"830"`
	Page     int       `json:"page" example:"1"`
	PageSize int       `json:"page_size" example:"20"`
}
