package pipeline

import (
	"context"
	"fmt"

	"reportsync/internal/browser"
	"reportsync/internal/config"
)

// Login signs the operator into the console.
type Login struct {
	Deps
	URL         string
	Credentials config.Credentials
}

func (l *Login) Run(ctx context.Context) error {
	l.Logger.Printf("🔐 Logging in at %s", l.URL)
	if err := l.goTo(ctx, l.URL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}

	ui := l.ui()
	if _, err := ui.WaitVisible(OperatorIDField, l.Waits.Get(config.WaitLoginReady)); err != nil {
		return err
	}
	if _, err := ui.Fill(OperatorIDField, l.Credentials.OpsID); err != nil {
		return err
	}
	if _, err := ui.Fill(PasswordField, l.Credentials.Password); err != nil {
		return err
	}

	if _, err := ui.Click(SubmitButton); err != nil {
		// Last resort: submit through the keyboard from the focused field.
		l.Logger.Printf("🧽 Submit fallback: pressing Enter after %v", err)
		if keyErr := l.Page.PressKey("Enter"); keyErr != nil {
			return fmt.Errorf("%w (Enter fallback: %v)", err, keyErr)
		}
	}

	// The console keeps long-poll requests open, so a settle timeout here is
	// not a failed login.
	if err := l.Page.WaitForSettle(ctx, l.Waits.Get(config.WaitLoginSettle)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !browser.IsTimeout(err) {
			return fmt.Errorf("wait after login: %w", err)
		}
		l.Logger.Printf("⚠️ Network did not settle after login: %v", err)
	}
	l.Logger.Printf("✅ Logged in as %s", l.Credentials.OpsID)
	return nil
}
