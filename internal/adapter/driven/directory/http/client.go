// Package http resolves caller profiles from the server's /users endpoint.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type ProfileDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Directory implements port.CallerDirectory.
type Directory struct {
	baseURL string
	client  *http.Client
}

func NewDirectory(baseURL string, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Directory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *Directory) Resolve(ctx context.Context, userID domain.UserID) (domain.CallerProfile, error) {
	endpoint := d.baseURL + "/users/" + url.PathEscape(userID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.CallerProfile{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return domain.CallerProfile{}, fmt.Errorf("lookup %s: %w", userID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.CallerProfile{}, domain.ErrProfileNotFound
	default:
		return domain.CallerProfile{}, fmt.Errorf("lookup %s: unexpected status %d", userID, resp.StatusCode)
	}

	var dto ProfileDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.CallerProfile{}, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return domain.ResolvedProfile(userID, dto.Name, dto.AvatarURL), nil
}
