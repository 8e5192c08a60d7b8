package commands

import (
	"context"

	"marketplace-client/internal/app"
)

type loginCommand struct {
	Email    string `long:"email" short:"e" description:"Account email"`
	Password string `long:"password" env:"MARKETPLACE_PASSWORD" description:"Account password (prompted when omitted)"`

	env *Env
}

func (c *loginCommand) Execute(_ []string) error {
	email, err := c.env.promptIfEmpty(c.Email, "Email", false)
	if err != nil {
		return err
	}
	password, err := c.env.promptIfEmpty(c.Password, "Password", true)
	if err != nil {
		return err
	}
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.Login(ctx, app.LoginForm{Email: email, Password: password}); err != nil {
			return err
		}
		c.env.printf("Signed in as %s (token valid until %s)\n", a.Session().Identity(), formatExpiry(a.Session().Snapshot()))
		return nil
	})
}

type registerCommand struct {
	FirstName string `long:"first-name" required:"true" description:"First name"`
	LastName  string `long:"last-name" required:"true" description:"Last name"`
	Email     string `long:"email" short:"e" required:"true" description:"Account email"`

	env *Env
}

func (c *registerCommand) Execute(_ []string) error {
	password, err := c.env.promptIfEmpty("", "Password", true)
	if err != nil {
		return err
	}
	confirm, err := c.env.promptIfEmpty("", "Confirm password", true)
	if err != nil {
		return err
	}
	form := app.RegisterForm{
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Email:           c.Email,
		Password:        password,
		ConfirmPassword: confirm,
	}
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.Register(ctx, form); err != nil {
			return err
		}
		c.env.printf("Registered and signed in as %s\n", a.Session().Identity())
		return nil
	})
}

type logoutCommand struct {
	env *Env
}

func (c *logoutCommand) Execute(_ []string) error {
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.Session().Restore(); err != nil {
			return err
		}
		identity := a.Session().Identity()
		a.Logout(ctx)
		if identity == "" {
			c.env.printf("No session to sign out of\n")
			return nil
		}
		c.env.printf("Signed out %s\n", identity)
		return nil
	})
}

type refreshCommand struct {
	env *Env
}

func (c *refreshCommand) Execute(_ []string) error {
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.Session().Restore(); err != nil {
			return err
		}
		if !a.Session().IsAuthenticated() {
			return errSignedOut
		}
		if err := a.Refresh(ctx); err != nil {
			return err
		}
		c.env.printf("Access token renewed (valid until %s)\n", formatExpiry(a.Session().Snapshot()))
		return nil
	})
}

type statusCommand struct {
	env *Env
}

func (c *statusCommand) Execute(_ []string) error {
	return c.env.withApp(app.Callbacks{}, func(_ context.Context, a *app.MarketplaceApp) error {
		if err := a.Session().Restore(); err != nil {
			return err
		}
		snapshot := a.Session().Snapshot()
		if snapshot.Empty() {
			c.env.printf("Signed out\n")
			return nil
		}
		state := "valid"
		if a.Session().IsAccessTokenExpired() {
			state = "expired, renewed on next use"
		}
		c.env.printf("Signed in as %s\nAccess token %s (expires %s)\n", snapshot.Identity, state, formatExpiry(snapshot))
		return nil
	})
}
