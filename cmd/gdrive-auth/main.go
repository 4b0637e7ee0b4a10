// Command gdrive-auth runs the OAuth consent flow once and prints the
// refresh token to put in GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"serenity/internal/pkg/logger"
	"serenity/internal/storage"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth", Output: os.Stderr})
	if err := run(context.Background(), log); err != nil {
		log.LogFatal("authorization failed", err)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		return errors.New("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
	}

	// Local callback on a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)
	conf := storage.OAuthConfig(clientID, clientSecret, redirectURL)

	state := randomState()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- errors.New("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New("missing code")
		default:
			fmt.Fprintln(w, "Done. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with forced consent so a refresh token is issued.
	authURL := conf.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	fmt.Println("Open this URL in your browser:")
	fmt.Println()
	fmt.Println(authURL)
	fmt.Println()
	log.Info("waiting for authorization", "redirect_url", redirectURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Minute):
		return errors.New("timed out waiting for authorization")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	if strings.TrimSpace(tok.RefreshToken) == "" {
		return errors.New("no refresh token returned; revoke the app's access at https://myaccount.google.com/permissions and retry")
	}

	fmt.Println("GDRIVE_REFRESH_TOKEN:")
	fmt.Println(tok.RefreshToken)
	return nil
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
