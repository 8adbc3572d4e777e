package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

type profileRequest struct {
	UserID string `json:"user_id"`
}

// UserClient looks up recipient profiles in the user service.
type UserClient struct {
	svc service
}

func NewUserClient(baseURL string, client *resty.Client) (*UserClient, error) {
	svc, err := newService("user service", baseURL, client)
	if err != nil {
		return nil, err
	}
	return &UserClient{svc: svc}, nil
}

func (c *UserClient) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	var profile domain.UserProfile
	if err := c.svc.post(ctx, "/users/profile", profileRequest{UserID: userID}, &profile); err != nil {
		return domain.UserProfile{}, err
	}
	if profile.ID == "" {
		profile.ID = userID
	}
	return profile, nil
}
