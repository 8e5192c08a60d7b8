package commands

import (
	"context"

	"marketplace-client/internal/app"
)

type forgotPasswordCommand struct {
	Email string `long:"email" short:"e" required:"true" description:"Account email"`

	env *Env
}

func (c *forgotPasswordCommand) Execute(_ []string) error {
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.ForgotPassword(ctx, app.ForgotPasswordForm{Email: c.Email}); err != nil {
			return err
		}
		c.env.printf("If %s has an account, a reset link is on its way\n", c.Email)
		return nil
	})
}

type resetPasswordCommand struct {
	Token string `long:"token" required:"true" description:"Token from the reset link"`
	Email string `long:"email" short:"e" required:"true" description:"Account email"`

	env *Env
}

func (c *resetPasswordCommand) Execute(_ []string) error {
	password, err := c.env.promptIfEmpty("", "New password", true)
	if err != nil {
		return err
	}
	confirm, err := c.env.promptIfEmpty("", "Confirm new password", true)
	if err != nil {
		return err
	}
	form := app.ResetPasswordForm{
		Token:           c.Token,
		Email:           c.Email,
		Password:        password,
		ConfirmPassword: confirm,
	}
	return c.env.withApp(app.Callbacks{}, func(ctx context.Context, a *app.MarketplaceApp) error {
		if err := a.ResetPassword(ctx, form); err != nil {
			return err
		}
		c.env.printf("Password updated; sign in with the new password\n")
		return nil
	})
}
