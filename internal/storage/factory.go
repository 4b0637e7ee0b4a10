package storage

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"serenity/internal/adapters/storage/gdrive"
	"serenity/internal/adapters/storage/localfs"
	"serenity/internal/config"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("STORAGE_LOCAL_ROOT is required for localfs storage")
		}
		return localfs.New(cfg.LocalRoot), nil
	case "gdrive":
		return newGDriveProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// OAuthConfig is the Drive OAuth client shared with the gdrive-auth CLI.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

func newGDriveProvider(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	missing := []string{}
	if cfg.GDriveClientID == "" {
		missing = append(missing, "GDRIVE_CLIENT_ID")
	}
	if cfg.GDriveClientSecret == "" {
		missing = append(missing, "GDRIVE_CLIENT_SECRET")
	}
	if cfg.GDriveRefreshToken == "" {
		missing = append(missing, "GDRIVE_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gdrive storage requires %v", missing)
	}

	conf := OAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret, "")
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}
