package backend

import (
	"context"
	"fmt"
	"strconv"
)

// Login authenticates a user. adminOnly makes the backend refuse non-admins.
func (c *Client) Login(ctx context.Context, phoneOrEmail, password string, adminOnly bool) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/api/login", LoginRequest{
		PhoneOrEmail: phoneOrEmail,
		Password:     password,
		AdminOnly:    adminOnly,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterAdmin creates an administrator account
func (c *Client) RegisterAdmin(ctx context.Context, u NewUser) (*Message, error) {
	var resp Message
	if err := c.post(ctx, "/api/auth/register-admin", u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AdminOverview(ctx context.Context) (*AdminOverview, error) {
	var resp AdminOverview
	if err := c.get(ctx, "/api/admin/overview", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) AdminAnalytics(ctx context.Context) (*AdminAnalytics, error) {
	var resp AdminAnalytics
	if err := c.get(ctx, "/api/admin/analytics", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateHospital(ctx context.Context, h NewHospital) (*Hospital, error) {
	var resp Hospital
	if err := c.post(ctx, "/api/admin/hospitals", h, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateAuthorizer(ctx context.Context, u NewUser) (*UserSummary, error) {
	var resp UserSummary
	if err := c.post(ctx, "/api/admin/users/authorizer", u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateHospitalUser(ctx context.Context, u NewUser) (*UserSummary, error) {
	if u.HospitalID == 0 {
		return nil, fmt.Errorf("hospital user requires a hospital id")
	}
	var resp UserSummary
	if err := c.post(ctx, "/api/admin/users/hospital", u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthorizerSummary returns district analytics. An empty state means all
// states.
func (c *Client) AuthorizerSummary(ctx context.Context, state string) (*AuthorizerSummary, error) {
	var resp AuthorizerSummary
	if err := c.get(ctx, "/api/authorizer/summary", stateQuery(state), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Applications lists scheme applications, optionally filtered by status
func (c *Client) Applications(ctx context.Context, status string) ([]Application, error) {
	var query map[string]string
	if status != "" {
		query = map[string]string{"status": status}
	}
	var resp []Application
	if err := c.get(ctx, "/api/authorizer/applications", query, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateApplicationStatus approves or rejects an application
func (c *Client) UpdateApplicationStatus(ctx context.Context, id int, status string) (*Message, error) {
	var resp Message
	path := "/api/authorizer/applications/" + strconv.Itoa(id) + "/update-status"
	if err := c.post(ctx, path, map[string]string{"status": status}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) HighRisk(ctx context.Context, state string) ([]HighRiskCase, error) {
	var resp []HighRiskCase
	if err := c.get(ctx, "/api/authorizer/highrisk", stateQuery(state), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) OffTrack(ctx context.Context, state string) ([]OffTrackChild, error) {
	var resp []OffTrackChild
	if err := c.get(ctx, "/api/authorizer/offtrack", stateQuery(state), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) AuthorizerHospitals(ctx context.Context, state string) ([]Hospital, error) {
	var resp []Hospital
	if err := c.get(ctx, "/api/authorizer/hospitals", stateQuery(state), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RecomputePredictions asks the backend to rescore every record
func (c *Client) RecomputePredictions(ctx context.Context) (*RecomputeResult, error) {
	var resp RecomputeResult
	if err := c.post(ctx, "/api/predictions/recompute", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) HospitalDashboard(ctx context.Context, hospitalID int) (*HospitalDashboard, error) {
	var resp HospitalDashboard
	query := map[string]string{"hospital_id": strconv.Itoa(hospitalID)}
	if err := c.get(ctx, "/api/hospital/dashboard", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) PatientDetail(ctx context.Context, pregnancyID int) (*PatientDetail, error) {
	var resp PatientDetail
	if err := c.get(ctx, "/api/hospital/patient/"+strconv.Itoa(pregnancyID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BeneficiaryDashboard(ctx context.Context, userID int) (*BeneficiaryDashboard, error) {
	var resp BeneficiaryDashboard
	query := map[string]string{"user_id": strconv.Itoa(userID)}
	if err := c.get(ctx, "/api/beneficiary/dashboard", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AssistantQuery asks the backend assistant a free text question
func (c *Client) AssistantQuery(ctx context.Context, query string) (*AssistantReply, error) {
	var resp AssistantReply
	if err := c.post(ctx, "/api/assistant/query", map[string]string{"query": query}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
