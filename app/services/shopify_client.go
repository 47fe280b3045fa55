package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Discount value types accepted by the platform
const (
	DiscountValuePercentage   = "percentage"
	DiscountValueFixedAmount  = "fixed_amount"
	DiscountValueFreeShipping = "free_shipping"
)

// ShopifyAdminClient creates discount codes and reads audience segments
// through the Shopify admin REST API. Credentials are per store, so every
// call takes the shop domain and access token.
type ShopifyAdminClient interface {
	CreateDiscountCode(ctx context.Context, creds ShopifyCredentials, in DiscountCodeInput) (*DiscountCodeResult, error)
	ListSegmentMembers(ctx context.Context, creds ShopifyCredentials, segmentID string) ([]SegmentMember, error)
}

// ShopifyCredentials identifies one connected shop
type ShopifyCredentials struct {
	ShopDomain  string
	AccessToken string
}

// DiscountCodeInput describes one code to mint
type DiscountCodeInput struct {
	Code           string
	ValueType      string // percentage, fixed_amount, free_shipping
	Value          int64  // percent (0-100) or minor currency units depending on ValueType
	LockToEmail    string // restrict usage to one customer email when set
	MinSubtotal    *int64 // minor currency units
	UsageLimit     int
	OncePerBuyer   bool
	ExpiresAt      *time.Time
	PriceRuleTitle string
}

// DiscountCodeResult carries the platform identifiers of a minted code
type DiscountCodeResult struct {
	Code        string
	PriceRuleID int64
	CodeID      int64
}

// SegmentMember is one customer in a synced audience segment
type SegmentMember struct {
	CustomerID int64
	Email      string
}

// ShopifyClient implements ShopifyAdminClient against the REST admin API
type ShopifyClient struct {
	APIVersion string
	HTTPClient *http.Client
	Timeout    time.Duration

	// Admin API enforces a small per-shop call budget; space requests out
	// instead of burning the budget on bursts.
	minInterval time.Duration
	mu          sync.Mutex
	lastCall    time.Time
}

func NewShopifyClient(apiVersion string, timeout time.Duration, maxRPS int) *ShopifyClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var minInterval time.Duration
	if maxRPS > 0 {
		minInterval = time.Second / time.Duration(maxRPS)
	}
	return &ShopifyClient{
		APIVersion:  apiVersion,
		HTTPClient:  &http.Client{Timeout: timeout},
		Timeout:     timeout,
		minInterval: minInterval,
	}
}

func (c *ShopifyClient) Name() string { return "shopify" }

// Price rule plus discount code creation
// Docs: https://shopify.dev/docs/api/admin-rest/latest/resources/pricerule

type shopifyPriceRuleReq struct {
	PriceRule shopifyPriceRule `json:"price_rule"`
}

type shopifyPriceRule struct {
	ID                int64      `json:"id,omitempty"`
	Title             string     `json:"title"`
	TargetType        string     `json:"target_type"`        // line_item, shipping_line
	TargetSelection   string     `json:"target_selection"`   // all
	AllocationMethod  string     `json:"allocation_method"`  // across, each
	ValueType         string     `json:"value_type"`         // percentage, fixed_amount
	Value             string     `json:"value"`              // negative decimal string
	CustomerSelection string     `json:"customer_selection"` // all, prerequisite
	UsageLimit        *int       `json:"usage_limit,omitempty"`
	OncePerCustomer   bool       `json:"once_per_customer"`
	StartsAt          time.Time  `json:"starts_at"`
	EndsAt            *time.Time `json:"ends_at,omitempty"`

	PrerequisiteCustomerIDs   []int64               `json:"prerequisite_customer_ids,omitempty"`
	PrerequisiteSubtotalRange *shopifySubtotalRange `json:"prerequisite_subtotal_range,omitempty"`
}

type shopifySubtotalRange struct {
	GreaterThanOrEqualTo string `json:"greater_than_or_equal_to"`
}

type shopifyPriceRuleEnv struct {
	PriceRule shopifyPriceRule `json:"price_rule"`
	Errors    any              `json:"errors,omitempty"`
}

type shopifyDiscountCodeReq struct {
	DiscountCode shopifyDiscountCode `json:"discount_code"`
}

type shopifyDiscountCode struct {
	ID   int64  `json:"id,omitempty"`
	Code string `json:"code"`
}

type shopifyDiscountCodeEnv struct {
	DiscountCode shopifyDiscountCode `json:"discount_code"`
	Errors       any                 `json:"errors,omitempty"`
}

// CreateDiscountCode mints a single-use code behind a dedicated price rule.
// Callers must not retry on error; the campaign surfaces the failure instead
// of risking duplicate codes against the shop's rule quota.
func (c *ShopifyClient) CreateDiscountCode(ctx context.Context, creds ShopifyCredentials, in DiscountCodeInput) (*DiscountCodeResult, error) {
	if creds.ShopDomain == "" || creds.AccessToken == "" {
		return nil, errors.New("shopify: missing shop credentials")
	}
	if in.Code == "" {
		return nil, errors.New("shopify: empty discount code")
	}

	rule := shopifyPriceRule{
		Title:             in.PriceRuleTitle,
		TargetType:        "line_item",
		TargetSelection:   "all",
		AllocationMethod:  "across",
		CustomerSelection: "all",
		OncePerCustomer:   in.OncePerBuyer,
		StartsAt:          time.Now().UTC(),
		EndsAt:            in.ExpiresAt,
	}
	if rule.Title == "" {
		rule.Title = in.Code
	}
	if in.UsageLimit > 0 {
		limit := in.UsageLimit
		rule.UsageLimit = &limit
	}

	switch in.ValueType {
	case DiscountValuePercentage:
		rule.ValueType = "percentage"
		rule.Value = fmt.Sprintf("-%d.0", in.Value)
	case DiscountValueFixedAmount:
		rule.ValueType = "fixed_amount"
		rule.Value = fmt.Sprintf("-%d.%02d", in.Value/100, in.Value%100)
	case DiscountValueFreeShipping:
		rule.TargetType = "shipping_line"
		rule.ValueType = "percentage"
		rule.Value = "-100.0"
	default:
		return nil, fmt.Errorf("shopify: unsupported value type %q", in.ValueType)
	}

	if in.MinSubtotal != nil && *in.MinSubtotal > 0 {
		rule.PrerequisiteSubtotalRange = &shopifySubtotalRange{
			GreaterThanOrEqualTo: fmt.Sprintf("%d.%02d", *in.MinSubtotal/100, *in.MinSubtotal%100),
		}
	}

	if in.LockToEmail != "" {
		customerID, err := c.findCustomerIDByEmail(ctx, creds, in.LockToEmail)
		if err != nil {
			return nil, err
		}
		// Unknown email leaves the code unlocked rather than failing issuance
		if customerID != 0 {
			rule.CustomerSelection = "prerequisite"
			rule.PrerequisiteCustomerIDs = []int64{customerID}
		}
	}

	var ruleEnv shopifyPriceRuleEnv
	if err := c.doJSON(ctx, creds, http.MethodPost, "/price_rules.json", shopifyPriceRuleReq{PriceRule: rule}, &ruleEnv); err != nil {
		return nil, err
	}
	if ruleEnv.PriceRule.ID == 0 {
		return nil, errors.New("shopify: empty price rule response")
	}

	var codeEnv shopifyDiscountCodeEnv
	path := fmt.Sprintf("/price_rules/%d/discount_codes.json", ruleEnv.PriceRule.ID)
	if err := c.doJSON(ctx, creds, http.MethodPost, path, shopifyDiscountCodeReq{DiscountCode: shopifyDiscountCode{Code: in.Code}}, &codeEnv); err != nil {
		return nil, err
	}
	if codeEnv.DiscountCode.ID == 0 {
		return nil, errors.New("shopify: empty discount code response")
	}

	return &DiscountCodeResult{
		Code:        codeEnv.DiscountCode.Code,
		PriceRuleID: ruleEnv.PriceRule.ID,
		CodeID:      codeEnv.DiscountCode.ID,
	}, nil
}

type shopifyCustomersEnv struct {
	Customers []struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	} `json:"customers"`
}

func (c *ShopifyClient) findCustomerIDByEmail(ctx context.Context, creds ShopifyCredentials, email string) (int64, error) {
	var env shopifyCustomersEnv
	path := "/customers/search.json?query=" + "email:" + email
	if err := c.doJSON(ctx, creds, http.MethodGet, path, nil, &env); err != nil {
		return 0, err
	}
	for _, customer := range env.Customers {
		if strings.EqualFold(customer.Email, email) {
			return customer.ID, nil
		}
	}
	return 0, nil
}

// ListSegmentMembers pulls the customers of a saved search segment.
// Docs: https://shopify.dev/docs/api/admin-rest/latest/resources/customersavedsearch
func (c *ShopifyClient) ListSegmentMembers(ctx context.Context, creds ShopifyCredentials, segmentID string) ([]SegmentMember, error) {
	if creds.ShopDomain == "" || creds.AccessToken == "" {
		return nil, errors.New("shopify: missing shop credentials")
	}
	if strings.TrimSpace(segmentID) == "" {
		return nil, errors.New("shopify: empty segment id")
	}

	var members []SegmentMember
	page := 1
	for {
		var env shopifyCustomersEnv
		path := fmt.Sprintf("/customer_saved_searches/%s/customers.json?limit=250&page=%d", segmentID, page)
		if err := c.doJSON(ctx, creds, http.MethodGet, path, nil, &env); err != nil {
			return nil, err
		}
		for _, customer := range env.Customers {
			members = append(members, SegmentMember{
				CustomerID: customer.ID,
				Email:      customer.Email,
			})
		}
		if len(env.Customers) < 250 {
			break
		}
		page++
	}

	return members, nil
}

// HTTP helpers
func (c *ShopifyClient) doJSON(ctx context.Context, creds ShopifyCredentials, method, path string, payload any, out any) error {
	c.throttle()

	var body *bytes.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	url := "https://" + strings.TrimRight(creds.ShopDomain, "/") + "/admin/api/" + c.APIVersion + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("shopify: status %d for %s", resp.StatusCode, path)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ShopifyClient) throttle() {
	if c.minInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.lastCall)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastCall = time.Now()
}
