package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postpilot/internal/models"
	"github.com/maheshrc27/postpilot/internal/platform"
	"github.com/maheshrc27/postpilot/internal/repository"
	"github.com/maheshrc27/postpilot/pkg/crypto"
)

// TokenRefreshJob proactively rotates tokens that expire within the lookahead
// window, so publishes rarely hit the in-band refresh path.
type TokenRefreshJob struct {
	sr         repository.SocialAccountRepository
	vault      *crypto.Vault
	refreshers map[string]platform.Refresher
}

func NewTokenRefreshJob(
	sr repository.SocialAccountRepository,
	vault *crypto.Vault,
	refreshers map[string]platform.Refresher) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:         sr,
		vault:      vault,
		refreshers: refreshers,
	}
}

const refreshLookahead = 30 * time.Minute

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	currentTime := time.Now()
	windowEnd := currentTime.Add(refreshLookahead)

	accounts, err := c.sr.ListExpiring(ctx, currentTime, windowEnd)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {
		refresher, ok := c.refreshers[acc.Platform]
		if !ok || acc.RefreshToken == "" {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount, refresher platform.Refresher) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.refreshAccount(ctx, acc, refresher); err != nil {
				slog.Info(fmt.Sprintf("unable to refresh tokens for account %d (%s): %v", acc.ID, acc.Platform, err))
			}
		}(acc, refresher)
	}

	wg.Wait()
}

func (c *TokenRefreshJob) refreshAccount(ctx context.Context, acc *models.SocialAccount, refresher platform.Refresher) error {
	refreshToken, err := c.vault.Decrypt(acc.RefreshToken)
	if err != nil {
		return fmt.Errorf("decrypting refresh token: %w", err)
	}

	creds := platform.Credentials{
		AccountID:    acc.AccountID,
		RefreshToken: refreshToken,
	}

	refreshed, err := refresher.Refresh(ctx, creds)
	if err != nil {
		return err
	}

	encryptedAccess, err := c.vault.Encrypt(refreshed.AccessToken)
	if err != nil {
		return err
	}

	update := &models.SocialAccount{
		AccessToken:    encryptedAccess,
		TokenExpiresAt: refreshed.ExpiresAt,
	}
	if refreshed.RefreshToken != "" {
		encryptedRefresh, err := c.vault.Encrypt(refreshed.RefreshToken)
		if err != nil {
			return err
		}
		update.RefreshToken = encryptedRefresh
	}

	return c.sr.SetToken(ctx, acc.ID, update)
}
